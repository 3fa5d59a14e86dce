package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Settings models settings.json, the deployment-independent tuning knobs.
type Settings struct {
	Chain struct {
		ChainID       int64  `json:"chainId"`
		RPCURL        string `json:"rpcUrl"`
		Confirmations uint64 `json:"confirmations"`
	} `json:"chain"`
	Contracts struct {
		EscrowVault      string `json:"escrowVault"`
		DocumentRegistry string `json:"documentRegistry"`
	} `json:"contracts"`
	Currency struct {
		Symbol   string `json:"symbol"`
		Decimals int32  `json:"decimals"`
	} `json:"currency"`
	Fees struct {
		GasLimit                uint64 `json:"gasLimit"`
		SafetyMultiplierPercent int64  `json:"safetyMultiplierPercent"`
		MaxFeeCeilingGwei       int64  `json:"maxFeeCeilingGwei"`
	} `json:"fees"`
	Retry struct {
		MaxAttempts  int `json:"maxAttempts"`
		RetryDelayMs int `json:"retryDelayMs"`
	} `json:"retry"`
	Providers struct {
		WeatherURL  string `json:"weatherUrl"`
		TrackingURL string `json:"trackingUrl"`
		IndexURL    string `json:"indexUrl"`
		TimeoutMs   int    `json:"timeoutMs"`
	} `json:"providers"`
}

type ServiceConfig struct {
	HTTPPort     int
	OpsSecret    string
	OpsClockSkew time.Duration
}

type ChainConfig struct {
	RPCURL     string
	PrivateKey string
}

type StorageConfig struct {
	PostgresDSN string
}

// AppConfig ties together settings.json, secrets and derived values.
type AppConfig struct {
	Settings Settings
	Service  ServiceConfig
	Chain    ChainConfig
	Storage  StorageConfig
	// TrackingAPIKey authenticates against the shipment-tracking provider.
	TrackingAPIKey string
}

const defaultSettingsPath = "settings.json"

// Load aggregates configuration from disk and environment. A .env file is
// honored when present.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	settingsPath := envOr("SETTINGS_PATH", defaultSettingsPath)
	settings, err := loadSettings(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	cfg := &AppConfig{
		Settings: *settings,
		Service: ServiceConfig{
			HTTPPort:     envOrInt("API_HTTP_PORT", 3000),
			OpsSecret:    envOr("OPS_HMAC_SECRET", ""),
			OpsClockSkew: time.Duration(envOrInt("OPS_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		},
		Chain: ChainConfig{
			RPCURL:     envOr("CHAIN_RPC_URL", settings.Chain.RPCURL),
			PrivateKey: envOr("CHAIN_PRIVATE_KEY", ""),
		},
		Storage: StorageConfig{
			PostgresDSN: envOr("POSTGRES_DSN", ""),
		},
		TrackingAPIKey: envOr("TRACKING_API_KEY", ""),
	}
	return cfg, nil
}

func loadSettings(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// FeeCeilingWei converts the configured ceiling from gwei to wei.
func (s Settings) FeeCeilingWei() *big.Int {
	ceiling := s.Fees.MaxFeeCeilingGwei
	if ceiling <= 0 {
		ceiling = 100
	}
	return new(big.Int).Mul(big.NewInt(ceiling), big.NewInt(1_000_000_000))
}

func (s Settings) RetryDelay() time.Duration {
	return time.Duration(s.Retry.RetryDelayMs) * time.Millisecond
}

func (s Settings) ProviderTimeout() time.Duration {
	return time.Duration(s.Providers.TimeoutMs) * time.Millisecond
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}
