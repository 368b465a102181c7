package oauth2

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	ca "github.com/panyam/creatorauth"
)

// GenerateState returns a random value for the OAuth state parameter
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// graphError is the error envelope used by the Facebook/Instagram Graph API
type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Graph API error code for an invalid or expired access token
const graphInvalidToken = 190

// getJSON issues a GET and decodes a JSON response into out. A rejected
// access token is reported as ca.ErrProviderAuth.
func getJSON(ctx context.Context, client *http.Client, url string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ca.ErrProviderAuth, truncate(body))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var gerr graphError
		if json.Unmarshal(body, &gerr) == nil && gerr.Error.Code == graphInvalidToken {
			return fmt.Errorf("%w: %s", ca.ErrProviderAuth, gerr.Error.Message)
		}
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("malformed provider response: %w", err)
	}
	return nil
}

func truncate(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
