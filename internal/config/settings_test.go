package config

import "testing"

func TestEmbeddedDefaultsAreValid(t *testing.T) {
	cfg := GetConfig()

	if err := validate(cfg); err != nil {
		t.Fatalf("embedded defaults failed validation: %v", err)
	}
	if got := cfg.Fingerprint.Weights.Total(); got != 100 {
		t.Fatalf("default weights sum to %d, want 100", got)
	}
}

func TestUpdateConfigRejectsBadWeights(t *testing.T) {
	cfg := GetConfig()
	cfg.Fingerprint.Weights.Canvas += 5

	if err := UpdateConfig(cfg); err == nil {
		t.Fatal("weights not summing to 100 must be rejected")
	}
	if got := GetConfig().Fingerprint.Weights.Total(); got != 100 {
		t.Fatalf("rejected update leaked into the live config, total = %d", got)
	}
}

func TestUpdateConfigRejectsInvertedThresholds(t *testing.T) {
	cfg := GetConfig()
	cfg.Detection.RateAutoBlock = cfg.Detection.RateSuspicious - 1

	if err := UpdateConfig(cfg); err == nil {
		t.Fatal("auto-block threshold below suspicious threshold must be rejected")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := GetConfig()

	if cfg.RateWindow().Seconds() != float64(cfg.Detection.RateWindowSeconds) {
		t.Fatal("RateWindow does not match its seconds value")
	}
	if cfg.BruteForceWindow().Seconds() != float64(cfg.Detection.BruteForceWindowSeconds) {
		t.Fatal("BruteForceWindow does not match its seconds value")
	}
}
