package traffic

import (
	"context"
	"net"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"sentinel/internal/config"
	"sentinel/internal/domain"
)

// unknownCountry is the sentinel stored when no provider could resolve the
// address. Kept for wire compatibility with existing dashboards.
const unknownCountry = "Desconhecido"

// GeoInfo is the resolved location and hosting classification of an address.
type GeoInfo struct {
	Country  string `json:"country"`
	City     string `json:"city"`
	IsVPN    bool   `json:"is_vpn"`
	Provider string `json:"provider,omitempty"`
}

// LocalGeo is returned for loopback and private addresses without touching
// any provider or cache.
var LocalGeo = GeoInfo{Country: "Local", City: "Local"}

// UnknownGeo marks an address no provider could resolve.
var UnknownGeo = GeoInfo{Country: unknownCountry, City: unknownCountry}

// GeoProvider resolves a public address to its location.
type GeoProvider interface {
	Lookup(ctx context.Context, ip string) (GeoInfo, error)
}

// GeoResolver answers location queries through a two-level cache: an
// in-process map in front of the store-backed cache, with the provider as a
// last resort. Concurrent misses for the same address collapse into one
// provider call.
type GeoResolver struct {
	store    Store
	provider GeoProvider
	group    singleflight.Group

	mu    sync.RWMutex
	cache map[string]GeoInfo
}

func NewGeoResolver(store Store, provider GeoProvider) *GeoResolver {
	return &GeoResolver{
		store:    store,
		provider: provider,
		cache:    make(map[string]GeoInfo),
	}
}

// Resolve never fails: an unresolvable address yields the unknown sentinel,
// which is not cached so the next sighting retries the provider.
func (r *GeoResolver) Resolve(ctx context.Context, ip string) GeoInfo {
	if isPrivateAddress(ip) {
		return LocalGeo
	}

	if info, found := r.CachedGeo(ip); found {
		return info
	}

	result, _, _ := r.group.Do(ip, func() (any, error) {
		if info, found := r.CachedGeo(ip); found {
			return info, nil
		}

		if r.store != nil {
			if entry, err := r.store.GetGeoCache(ctx, ip); err == nil && entry != nil {
				info := GeoInfo{
					Country:  entry.Country,
					City:     entry.City,
					IsVPN:    entry.IsVPN,
					Provider: entry.Provider,
				}
				r.remember(ip, info)
				return info, nil
			}
		}

		if r.provider == nil {
			return UnknownGeo, nil
		}

		lookupCtx, cancel := context.WithTimeout(ctx, config.GetConfig().GeoProviderTimeout())
		defer cancel()

		info, err := r.provider.Lookup(lookupCtx, ip)
		if err != nil {
			log.Debug("Geo lookup failed", "ip", ip, "error", err)
			return UnknownGeo, nil
		}

		r.remember(ip, info)
		if r.store != nil {
			entry := domain.GeoCacheEntry{
				IP:       ip,
				Country:  info.Country,
				City:     info.City,
				IsVPN:    info.IsVPN,
				Provider: info.Provider,
			}
			if err := r.store.UpsertGeoCache(ctx, entry); err != nil {
				log.Debug("Failed to persist geo cache entry", "ip", ip, "error", err)
			}
		}
		return info, nil
	})

	return result.(GeoInfo)
}

// CachedGeo reads the in-process cache only.
func (r *GeoResolver) CachedGeo(ip string) (GeoInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, found := r.cache[ip]
	return info, found
}

func (r *GeoResolver) remember(ip string, info GeoInfo) {
	limit := config.GetConfig().Limits.GeoCacheEntries

	r.mu.Lock()
	defer r.mu.Unlock()
	if limit > 0 && len(r.cache) >= limit {
		r.cache = make(map[string]GeoInfo)
	}
	r.cache[ip] = info
}

// isPrivateAddress covers loopback, RFC1918/4193 ranges, link-local and the
// non-real placeholders beacons send from local development.
func isPrivateAddress(ip string) bool {
	if isNonReal(ip) {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast()
}
