package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Config holds the tunables of the defense engine. The detection thresholds and
// fingerprint weights were tuned empirically on live traffic; they are carried as
// configuration so they can be adjusted without a rebuild.
type Config struct {
	Detection struct {
		RateWindowSeconds       int `json:"rate_window_seconds"`
		RateSuspicious          int `json:"rate_suspicious"`
		RateAutoBlock           int `json:"rate_auto_block"`
		BruteForceWindowSeconds int `json:"brute_force_window_seconds"`
		BruteForceMax           int `json:"brute_force_max"`
	} `json:"detection"`

	Fingerprint struct {
		Weights        Weights `json:"weights"`
		MatchThreshold int     `json:"match_threshold"`
	} `json:"fingerprint"`

	PublicRate struct {
		WindowSeconds int `json:"window_seconds"`
		MaxRequests   int `json:"max_requests"`
	} `json:"public_rate"`

	Heartbeat struct {
		OnlineWindowSeconds int `json:"online_window_seconds"`
		AdminWindowSeconds  int `json:"admin_window_seconds"`
		CleanupAfterSeconds int `json:"cleanup_after_seconds"`
		MaxEntries          int `json:"max_entries"`
	} `json:"heartbeat"`

	Limits struct {
		MaxRateKeys     int `json:"max_rate_keys"`
		GeoCacheEntries int `json:"geo_cache_entries"`
	} `json:"limits"`

	Geo struct {
		ProviderTimeoutSeconds int `json:"provider_timeout_seconds"`
	} `json:"geo"`
}

// Weights is the fuzzy-match weight table. The entries must sum to 100.
type Weights struct {
	Canvas    int `json:"canvas"`
	WebGL     int `json:"webgl"`
	Audio     int `json:"audio"`
	Screen    int `json:"screen"`
	CPU       int `json:"cpu"`
	RAM       int `json:"ram"`
	Timezone  int `json:"tz"`
	Platform  int `json:"platform"`
	UserAgent int `json:"ua"`
}

// Total returns the sum of all weight entries.
func (w Weights) Total() int {
	return w.Canvas + w.WebGL + w.Audio + w.Screen + w.CPU + w.RAM +
		w.Timezone + w.Platform + w.UserAgent
}

const settingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue atomic.Value
	configMu    sync.Mutex

	InProductionMode bool
)

func init() {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		panic(fmt.Sprintf("config: invalid embedded defaults: %v", err))
	}
	configValue.Store(cfg)
}

func SetProductionMode(enabled bool) {
	InProductionMode = enabled
}

// ReadSettings loads data/settings.json, creating it from the embedded defaults
// when missing. Invalid files are logged and ignored so a bad edit never takes
// the engine down.
func ReadSettings() {
	data, err := os.ReadFile(settingsFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Settings file not found, creating with default configuration")

			if err := os.MkdirAll("data", os.ModePerm); err != nil {
				log.Error("Error creating directory for settings file", "error", err)
				return
			}
			if err := os.WriteFile(settingsFilePath, defaultConfig, os.ModePerm); err != nil {
				log.Error("Error writing default settings file", "error", err)
				return
			}
			data = defaultConfig
		} else {
			log.Error("Error reading settings file", "error", err)
			return
		}
	}

	var newConfig Config
	if err := json.Unmarshal(data, &newConfig); err != nil {
		log.Error("Error unmarshalling settings file", "error", err)
		return
	}

	if err := UpdateConfig(newConfig); err != nil {
		log.Error("Error applying configuration from settings file", "error", err)
	}
}

// GetConfig returns the current configuration snapshot.
func GetConfig() Config {
	return configValue.Load().(Config)
}

// UpdateConfig validates and installs a new configuration snapshot.
func UpdateConfig(cfg Config) error {
	if err := validate(cfg); err != nil {
		return err
	}

	configMu.Lock()
	defer configMu.Unlock()
	configValue.Store(cfg)
	return nil
}

func validate(cfg Config) error {
	if total := cfg.Fingerprint.Weights.Total(); total != 100 {
		return fmt.Errorf("config: fingerprint weights sum to %d, want 100", total)
	}
	if t := cfg.Fingerprint.MatchThreshold; t < 1 || t > 100 {
		return fmt.Errorf("config: fingerprint match threshold %d out of range 1-100", t)
	}
	if cfg.Detection.RateWindowSeconds <= 0 {
		return fmt.Errorf("config: detection rate window must be positive")
	}
	if cfg.Detection.RateAutoBlock < cfg.Detection.RateSuspicious {
		return fmt.Errorf("config: auto-block threshold below suspicious threshold")
	}
	if cfg.PublicRate.WindowSeconds <= 0 || cfg.PublicRate.MaxRequests <= 0 {
		return fmt.Errorf("config: public rate limit must be positive")
	}
	return nil
}

// Duration helpers over the second-valued settings.

func (c Config) RateWindow() time.Duration {
	return time.Duration(c.Detection.RateWindowSeconds) * time.Second
}

func (c Config) BruteForceWindow() time.Duration {
	return time.Duration(c.Detection.BruteForceWindowSeconds) * time.Second
}

func (c Config) PublicRateWindow() time.Duration {
	return time.Duration(c.PublicRate.WindowSeconds) * time.Second
}

func (c Config) OnlineWindow() time.Duration {
	return time.Duration(c.Heartbeat.OnlineWindowSeconds) * time.Second
}

func (c Config) AdminWindow() time.Duration {
	return time.Duration(c.Heartbeat.AdminWindowSeconds) * time.Second
}

func (c Config) HeartbeatCleanupAfter() time.Duration {
	return time.Duration(c.Heartbeat.CleanupAfterSeconds) * time.Second
}

func (c Config) GeoProviderTimeout() time.Duration {
	return time.Duration(c.Geo.ProviderTimeoutSeconds) * time.Second
}
