package roadsync

import (
	"context"
	"fmt"

	"github.com/xtymac/eventflow-sub004/internal/db"
	"github.com/xtymac/eventflow-sub004/internal/logging"
	"github.com/xtymac/eventflow-sub004/internal/roadsync/source"
	"gorm.io/gorm"

	// Registers the "overpass" way source.
	_ "github.com/xtymac/eventflow-sub004/internal/roadsync/source/overpass"
)

// Service is the process-wide syncer set by Init.
var Service *Syncer

// Init migrates the schema, marks orphaned runs and builds Service on db.DB.
func Init(cfg Config) {
	if err := Migrate(db.DB); err != nil {
		logging.Fatal().Err(err).Msg("Failed to migrate roadsync schema")
	}

	n, err := NewPGRunStore(db.DB).AbandonRunning(context.Background(), "interrupted: process restarted")
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to recover interrupted sync runs")
	}
	if n > 0 {
		logging.Warn().Int64("runs", n).Msg("Marked interrupted sync runs as partial")
	}

	s, err := Build(db.DB, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build roadsync service")
	}
	Service = s
}

// Build wires a Syncer to Postgres stores and the configured way source.
func Build(d *gorm.DB, cfg Config) (*Syncer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var overrides map[string]RoadClass
	if cfg.ClassMapFile != "" {
		m, err := LoadClassMap(cfg.ClassMapFile)
		if err != nil {
			return nil, err
		}
		overrides = m
	}

	src, err := source.New(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("way source: %w", err)
	}

	return NewSyncer(Deps{
		Fetcher:    source.NewFetcher(src, nil, cfg.Source),
		Assets:     NewPGAssetStore(d),
		Runs:       NewPGRunStore(d),
		Boundaries: NewPGBoundaryStore(d),
		Normalizer: NewNormalizer(overrides),
	}, cfg), nil
}

// BoundaryDDL creates the region boundary table. It is shared with the
// boundary seeding command, which does not use gorm.
var BoundaryDDL = []string{
	`CREATE TABLE IF NOT EXISTS roadsync.region_boundaries (
		name       text PRIMARY KEY,
		geometry   geometry(MultiPolygon, 4326) NOT NULL,
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS region_boundaries_geometry_gist
		ON roadsync.region_boundaries USING GIST (geometry)`,
}

// Migrate creates the roadsync schema, tables and spatial indexes.
func Migrate(d *gorm.DB) error {
	if err := db.EnsureExtension(d, "postgis"); err != nil {
		return fmt.Errorf("extension postgis: %w", err)
	}
	if err := db.EnsureSchema(d, "roadsync"); err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	if err := d.AutoMigrate(&RoadSegment{}, &SyncRun{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	stmts := append([]string{
		`CREATE INDEX IF NOT EXISTS road_segments_geometry_gist
			ON roadsync.road_segments USING GIST (geometry)`,
	}, BoundaryDDL...)
	for _, stmt := range stmts {
		if err := d.Exec(stmt).Error; err != nil {
			return fmt.Errorf("ddl: %w", err)
		}
	}
	return nil
}
