package bootstrap

import (
	"context"

	"github.com/charmbracelet/log"

	"sentinel/internal/config"
	"sentinel/internal/database"
	"sentinel/internal/jobs/runtime"
	"sentinel/internal/support"
	"sentinel/internal/traffic"
)

// Setup wires the store, geo provider and engine, hydrates the blocked sets
// and launches the background routines.
func Setup(ctx context.Context) (*traffic.Engine, *database.TrafficStore) {
	config.ReadSettings()

	db, err := database.SetupDB()
	if err != nil {
		log.Fatalf("failed to set up database: %v", err)
	}

	store := database.NewTrafficStore(db)
	engine := traffic.NewEngine(store, geoProvider(), traffic.SystemClock())

	if err := engine.Hydrate(ctx); err != nil {
		log.Fatalf("failed to hydrate block registry: %v", err)
	}

	go runtime.StartBlockRefreshRoutine(ctx, engine)

	return engine, store
}

// geoProvider prefers local MaxMind databases when configured and falls back
// to the public ip-api.com endpoint.
func geoProvider() traffic.GeoProvider {
	cityPath := support.GetEnv("GEOIP_CITY_DB", "")
	if cityPath == "" {
		return traffic.NewIPAPIProvider()
	}

	asnPath := support.GetEnv("GEOIP_ASN_DB", "")
	geoLite, err := traffic.NewGeoLiteProvider(cityPath, asnPath)
	if err != nil {
		log.Warn("Failed to open GeoLite databases, using ip-api fallback", "error", err)
		return traffic.NewIPAPIProvider()
	}

	return traffic.NewFallbackProvider(geoLite, traffic.NewIPAPIProvider())
}
