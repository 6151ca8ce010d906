package traffic

import (
	"sentinel/internal/config"
	"sentinel/internal/domain"
)

// MatchKind names the path on which a fingerprint was recognised as blocked.
type MatchKind string

const (
	MatchNone     MatchKind = ""
	MatchExact    MatchKind = "exact"
	MatchHardware MatchKind = "hardware"
	MatchFuzzy    MatchKind = "fuzzy"
)

// MatchResult is the proposal produced by a fingerprint check. Checking never
// blocks anything by itself; the engine decides whether to persist a block.
type MatchResult struct {
	Blocked     bool
	Kind        MatchKind
	MatchedHash string
	Score       int
}

// MatchScore compares two component sets with the weighted table. A signal
// missing on either side is skipped, neither rewarded nor penalized; equal
// non-empty values add the signal's weight. Result is 0..100 for a table
// summing to 100.
func MatchScore(a, b domain.FingerprintComponents, w config.Weights) int {
	score := 0
	pairs := []struct {
		valA, valB string
		weight     int
	}{
		{a.Canvas, b.Canvas, w.Canvas},
		{a.WebGL, b.WebGL, w.WebGL},
		{a.Audio, b.Audio, w.Audio},
		{a.Screen, b.Screen, w.Screen},
		{a.CPU, b.CPU, w.CPU},
		{a.RAM, b.RAM, w.RAM},
		{a.Timezone, b.Timezone, w.Timezone},
		{a.Platform, b.Platform, w.Platform},
		{a.UserAgent, b.UserAgent, w.UserAgent},
	}
	for _, pair := range pairs {
		if pair.valA == "" || pair.valB == "" {
			continue
		}
		if pair.valA == pair.valB {
			score += pair.weight
		}
	}
	return score
}

// Matcher decides whether an incoming fingerprint belongs to an already
// blocked device. Exact hash first, then the browser-independent hardware
// hash, then the weighted fuzzy comparison against every blocked device's
// stored components. Fuzzy matching exists because private mode and
// anti-fingerprinting tweaks change the hash while the rendering-pipeline
// signals underneath stay put.
type Matcher struct {
	registry *BlockRegistry
}

func NewMatcher(registry *BlockRegistry) *Matcher {
	return &Matcher{registry: registry}
}

// Check is read-only: it inspects the blocked sets and proposes a match.
func (m *Matcher) Check(fpHash string, comps domain.FingerprintComponents) MatchResult {
	if fpHash == "" {
		return MatchResult{}
	}

	if m.registry.IsDeviceBlocked(fpHash) {
		return MatchResult{Blocked: true, Kind: MatchExact, MatchedHash: fpHash}
	}

	if comps.HardwareHash != "" && m.registry.IsHardwareBlocked(comps.HardwareHash) {
		return MatchResult{Blocked: true, Kind: MatchHardware, MatchedHash: comps.HardwareHash}
	}

	if comps.IsZero() {
		return MatchResult{}
	}

	fpCfg := config.GetConfig().Fingerprint
	for blockedHash, blockedComps := range m.registry.BlockedComponents() {
		score := MatchScore(comps, blockedComps, fpCfg.Weights)
		if score >= fpCfg.MatchThreshold {
			return MatchResult{Blocked: true, Kind: MatchFuzzy, MatchedHash: blockedHash, Score: score}
		}
	}

	return MatchResult{}
}
