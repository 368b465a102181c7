package creatorauth

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ProviderConfig holds OAuth client credentials for one provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func (p ProviderConfig) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// Config is built once at startup and passed to constructors.
type Config struct {
	AppName     string
	BaseURL     string
	FrontendURL string

	JWTSecretKey string
	JWTIssuer    string
	SessionTTL   time.Duration

	OTPValidity time.Duration
	BcryptCost  int

	// Analytics fan-out
	ProviderTimeout      time.Duration
	AnalyticsConcurrency int

	// Storage: "postgres", "datastore" or "fs"
	StoreKind          string
	StoragePath        string
	DatabaseURL        string
	DatastoreProject   string
	DatastoreNamespace string

	// RedisAddr enables the Redis refresh lock when set.
	RedisAddr string

	HTTPAddr string
	GRPCAddr string

	// Keyed by "google", "youtube", "instagram", "twitter"
	Providers map[string]ProviderConfig
}

// EnsureDefaults fills in unset fields and clamps the session lifetime.
func (c *Config) EnsureDefaults() *Config {
	if c.AppName == "" {
		c.AppName = "CreatorAuth"
	}
	if c.JWTIssuer == "" {
		c.JWTIssuer = fmt.Sprintf("%s-Issuer", c.AppName)
	}
	c.SessionTTL = ClampSessionTTL(c.SessionTTL)
	if c.OTPValidity <= 0 {
		c.OTPValidity = DefaultOTPValidity
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = DefaultBcryptCost
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 10 * time.Second
	}
	if c.AnalyticsConcurrency <= 0 {
		c.AnalyticsConcurrency = 4
	}
	if c.StoreKind == "" {
		c.StoreKind = "fs"
	}
	if c.StoragePath == "" {
		c.StoragePath = "./data"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost" + c.HTTPAddr
	}
	if c.FrontendURL == "" {
		c.FrontendURL = c.BaseURL
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	return c
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	if len(c.JWTSecretKey) < 16 {
		return fmt.Errorf("jwt secret key must be at least 16 characters")
	}
	switch c.StoreKind {
	case "fs":
		if c.StoragePath == "" {
			return fmt.Errorf("fs store requires a storage path")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("postgres store requires a database url")
		}
	case "datastore":
		if c.DatastoreProject == "" {
			return fmt.Errorf("datastore store requires a project id")
		}
	default:
		return fmt.Errorf("unknown store kind %q", c.StoreKind)
	}
	return nil
}

// LoadConfigFromEnv loads the given .env files (".env" when none are given,
// missing files ignored) and then reads CREATORAUTH_* variables.
func LoadConfigFromEnv(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	c := &Config{
		AppName:            env("APP_NAME", ""),
		BaseURL:            env("BASE_URL", ""),
		FrontendURL:        env("FRONTEND_URL", ""),
		JWTSecretKey:       strings.TrimSpace(env("JWT_SECRET_KEY", "")),
		JWTIssuer:          env("JWT_ISSUER", ""),
		StoreKind:          env("STORE", ""),
		StoragePath:        env("STORAGE_PATH", ""),
		DatabaseURL:        env("DATABASE_URL", ""),
		DatastoreProject:   env("DATASTORE_PROJECT", ""),
		DatastoreNamespace: env("DATASTORE_NAMESPACE", ""),
		RedisAddr:          env("REDIS_ADDR", ""),
		HTTPAddr:           env("HTTP_ADDR", ""),
		GRPCAddr:           env("GRPC_ADDR", ""),
		Providers:          map[string]ProviderConfig{},
	}

	var err error
	if c.SessionTTL, err = envDuration("SESSION_TTL"); err != nil {
		return nil, err
	}
	if c.OTPValidity, err = envDuration("OTP_VALIDITY"); err != nil {
		return nil, err
	}
	if c.ProviderTimeout, err = envDuration("PROVIDER_TIMEOUT"); err != nil {
		return nil, err
	}
	if c.BcryptCost, err = envInt("BCRYPT_COST"); err != nil {
		return nil, err
	}
	if c.AnalyticsConcurrency, err = envInt("ANALYTICS_CONCURRENCY"); err != nil {
		return nil, err
	}

	for _, name := range []string{"google", "youtube", "instagram", "twitter"} {
		prefix := strings.ToUpper(name) + "_"
		pc := ProviderConfig{
			ClientID:     env(prefix+"CLIENT_ID", ""),
			ClientSecret: env(prefix+"CLIENT_SECRET", ""),
			RedirectURL:  env(prefix+"REDIRECT_URL", ""),
		}
		if pc.ClientID != "" {
			c.Providers[name] = pc
		}
	}

	c.EnsureDefaults()
	return c, c.Validate()
}

func env(key, def string) string {
	if v, ok := os.LookupEnv("CREATORAUTH_" + key); ok {
		return v
	}
	return def
}

func envDuration(key string) (time.Duration, error) {
	v := env(key, "")
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid CREATORAUTH_%s: %w", key, err)
	}
	return d, nil
}

func envInt(key string) (int, error) {
	v := env(key, "")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid CREATORAUTH_%s: %w", key, err)
	}
	return n, nil
}
