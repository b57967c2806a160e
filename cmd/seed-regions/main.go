// Command seed-regions loads named region boundaries from a GeoJSON
// FeatureCollection into roadsync.region_boundaries.
//
//	seed-regions -geojson wards.geojson -name-prop name -dry-run
//	seed-regions -geojson wards.geojson -confirm
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
	"github.com/xtymac/eventflow-sub004/internal/roadsync"
)

var (
	geojsonPath = flag.String("geojson", "", "Path to a GeoJSON FeatureCollection (required)")
	nameProp    = flag.String("name-prop", "name", "Feature property holding the region name")
	dsn         = flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres DSN (default: env DATABASE_URL)")
	dryRun      = flag.Bool("dry-run", false, "Parse + validate only; no DB writes")
	confirm     = flag.Bool("confirm", false, "Required to overwrite stored boundaries")
	advisoryKey = flag.Int64("advisory-lock", 0, "Optional Postgres advisory lock key. 0 = disabled")
)

// Boundary is one named (multi)polygon read from the input file.
type Boundary struct {
	Name     string
	Geometry orb.Geometry
}

func main() {
	_ = godotenv.Load(".env.local")
	flag.Parse()
	if *geojsonPath == "" {
		fatalf("--geojson is required")
	}

	raw, err := os.ReadFile(*geojsonPath)
	if err != nil {
		fatalf("read: %v", err)
	}
	boundaries, err := parseBoundaries(raw, *nameProp)
	if err != nil {
		fatalf("GeoJSON error: %v", err)
	}
	fmt.Printf("Loaded %d boundaries from %s\n", len(boundaries), *geojsonPath)

	if *dryRun {
		printPlan(boundaries)
		fmt.Println("Dry run complete. No changes made.")
		return
	}
	if !*confirm {
		fatalf("Refusing to run without --confirm. Add --dry-run to preview.")
	}
	if *dsn == "" {
		fatalf("--dsn not provided and DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		fatalf("ping: %v", err)
	}
	if err := ensureTable(ctx, db); err != nil {
		fatalf("ensure table: %v", err)
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		fatalf("begin tx: %v", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if *advisoryKey != 0 {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, *advisoryKey); err != nil {
			fatalf("advisory lock: %v", err)
		}
	}

	inserted, updated, err := upsertAll(ctx, tx, boundaries)
	if err != nil {
		fatalf("upsert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		fatalf("commit: %v", err)
	}
	fmt.Printf("Seed complete: inserted=%d updated=%d\n", inserted, updated)
}

// parseBoundaries keeps Polygon and MultiPolygon features. Every feature
// must carry a unique, non-empty name.
func parseBoundaries(raw []byte, prop string) ([]Boundary, error) {
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]int)
	var out []Boundary
	for i, f := range fc.Features {
		name := strings.TrimSpace(f.Properties.MustString(prop, ""))
		if name == "" {
			return nil, fmt.Errorf("feature %d: missing %q property", i, prop)
		}
		if j, dup := seen[name]; dup {
			return nil, fmt.Errorf("feature %d: name %q already used by feature %d", i, name, j)
		}
		seen[name] = i

		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			return nil, fmt.Errorf("feature %d (%s): geometry must be Polygon or MultiPolygon, got %s", i, name, geometryType(f.Geometry))
		}
		out = append(out, Boundary{Name: name, Geometry: f.Geometry})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no features")
	}
	return out, nil
}

func geometryType(g orb.Geometry) string {
	if g == nil {
		return "null"
	}
	return g.GeoJSONType()
}

func ensureTable(ctx context.Context, db *sql.DB) error {
	stmts := append([]string{
		`CREATE EXTENSION IF NOT EXISTS postgis`,
		`CREATE SCHEMA IF NOT EXISTS roadsync`,
	}, roadsync.BoundaryDDL...)
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func upsertAll(ctx context.Context, tx *sql.Tx, boundaries []Boundary) (inserted, updated int, err error) {
	const q = `
		INSERT INTO roadsync.region_boundaries (name, geometry, updated_at)
		VALUES ($1, ST_Multi(ST_GeomFromWKB($2, 4326)), now())
		ON CONFLICT (name) DO UPDATE
		SET geometry = EXCLUDED.geometry, updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0)`

	for _, b := range boundaries {
		data, err := wkb.Marshal(b.Geometry)
		if err != nil {
			return inserted, updated, fmt.Errorf("%s: encode: %w", b.Name, err)
		}
		var isInsert bool
		if err := tx.QueryRowContext(ctx, q, b.Name, data).Scan(&isInsert); err != nil {
			return inserted, updated, fmt.Errorf("%s: %w", b.Name, err)
		}
		if isInsert {
			inserted++
		} else {
			updated++
		}
	}
	return inserted, updated, nil
}

func printPlan(boundaries []Boundary) {
	sorted := make([]Boundary, len(boundaries))
	copy(sorted, boundaries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, b := range sorted {
		bound := b.Geometry.Bound()
		fmt.Printf("  %-24s %-12s bbox=%.5f,%.5f,%.5f,%.5f\n", b.Name, b.Geometry.GeoJSONType(),
			bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat())
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
