package creatorauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Metric is a single counter. Providers that cannot report a metric leave it
// unsupported, which is distinct from a supported zero.
type Metric struct {
	Value     int64
	Supported bool
}

func Supported(v int64) Metric { return Metric{Value: v, Supported: true} }

var Unsupported = Metric{}

const unsupportedJSON = `"unsupported"`

func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Supported {
		return []byte(unsupportedJSON), nil
	}
	return json.Marshal(m.Value)
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte(unsupportedJSON)) || bytes.Equal(data, []byte("null")) {
		*m = Unsupported
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Supported(v)
	return nil
}

// Metrics is the normalized shape every provider maps into.
type Metrics struct {
	Likes       Metric `json:"likes"`
	Comments    Metric `json:"comments"`
	Shares      Metric `json:"shares"`
	Impressions Metric `json:"impressions"`
	Followers   Metric `json:"followers"`
}

// ProviderResult is the outcome for one provider: metrics or an error, never both.
type ProviderResult struct {
	OK      bool     `json:"ok"`
	Metrics *Metrics `json:"metrics,omitempty"`
	Error   *Error   `json:"error,omitempty"`
}

// DefaultProviderTimeout bounds each provider call during aggregation.
const DefaultProviderTimeout = 10 * time.Second

// Aggregator fetches metrics from several providers concurrently. A failing
// or slow provider only affects its own entry.
type Aggregator struct {
	Vault          *TokenVault
	Providers      *ProviderRegistry
	Timeout        time.Duration
	MaxConcurrency int
	Logger         *slog.Logger
}

func NewAggregator(cfg *Config, vault *TokenVault, providers *ProviderRegistry) *Aggregator {
	return &Aggregator{
		Vault:          vault,
		Providers:      providers,
		Timeout:        cfg.ProviderTimeout,
		MaxConcurrency: cfg.AnalyticsConcurrency,
		Logger:         slog.Default(),
	}
}

// Aggregate returns exactly one entry per distinct requested provider.
func (a *Aggregator) Aggregate(ctx context.Context, userID string, requested []ProviderID) map[ProviderID]ProviderResult {
	seen := map[ProviderID]bool{}
	var ids []ProviderID
	for _, id := range requested {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	results := make([]ProviderResult, len(ids))
	var g errgroup.Group
	if a.MaxConcurrency > 0 {
		g.SetLimit(a.MaxConcurrency)
	}
	for i, id := range ids {
		g.Go(func() error {
			results[i] = a.fetch(ctx, userID, id)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[ProviderID]ProviderResult, len(ids))
	for i, id := range ids {
		out[id] = results[i]
	}
	return out
}

func (a *Aggregator) fetch(ctx context.Context, userID string, id ProviderID) ProviderResult {
	p, ok := a.Providers.Get(id)
	if !ok {
		return ProviderResult{Error: unknownProvider(id)}
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var raw RawMetrics
	err := a.Vault.WithValidAccessToken(ctx, userID, id, func(ctx context.Context, link SocialLink) error {
		var err error
		raw, err = p.FetchMetrics(ctx, link.AccessToken, link.ExternalID)
		return err
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = UpstreamError(ErrCodeProviderTimeout, err)
		}
		if a.Logger != nil {
			a.Logger.Warn("analytics fetch failed", "account_id", userID, "provider", id, "error", err)
		}
		return ProviderResult{Error: AsError(err)}
	}
	m := p.NormalizeMetrics(raw)
	return ProviderResult{OK: true, Metrics: &m}
}
