package gdf

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/paulmach/orb"

	"github.com/opal-lang/datacube/core/plan"
)

// Catalog indexes storage-unit footprints in DuckDB.
type Catalog struct {
	db *sql.DB
}

// UnitRecord is an indexed storage unit.
type UnitRecord struct {
	ID          string
	StorageType string
	Time        float64
	Bounds      orb.Bound
}

const catalogSchema = `CREATE TABLE IF NOT EXISTS storage_units (
	id VARCHAR PRIMARY KEY,
	storage_type VARCHAR NOT NULL,
	unit_time DOUBLE NOT NULL,
	min_x DOUBLE NOT NULL,
	min_y DOUBLE NOT NULL,
	max_x DOUBLE NOT NULL,
	max_y DOUBLE NOT NULL
)`

// OpenCatalog opens (or creates) a catalog. An empty dsn is an in-memory
// database.
func OpenCatalog(ctx context.Context, dsn string) (*Catalog, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// An in-memory DuckDB is private to its connection.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, catalogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close releases the database.
func (c *Catalog) Close() error { return c.db.Close() }

// IndexUnit records or replaces a unit's footprint.
func (c *Catalog) IndexUnit(ctx context.Context, u *StorageUnit) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO storage_units VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.StorageType, u.Time,
		u.Bounds.Min.X(), u.Bounds.Min.Y(), u.Bounds.Max.X(), u.Bounds.Max.Y())
	if err != nil {
		return fmt.Errorf("index storage unit %s: %w", u.ID, err)
	}
	return nil
}

// SearchUnits returns units of a storage type whose footprint intersects
// bound and whose time lies in timeRange, ordered by time. A nil bound or
// time range matches everything.
func (c *Catalog) SearchUnits(ctx context.Context, storageType string, bound *orb.Bound, timeRange *plan.Range) ([]UnitRecord, error) {
	where := []string{"storage_type = ?"}
	args := []any{storageType}
	if bound != nil {
		where = append(where, "max_x >= ?", "min_x <= ?", "max_y >= ?", "min_y <= ?")
		args = append(args, bound.Min.X(), bound.Max.X(), bound.Min.Y(), bound.Max.Y())
	}
	if timeRange != nil {
		where = append(where, "unit_time BETWEEN ? AND ?")
		args = append(args, timeRange.Lo, timeRange.Hi)
	}
	query := "SELECT id, storage_type, unit_time, min_x, min_y, max_x, max_y FROM storage_units WHERE " +
		strings.Join(where, " AND ") + " ORDER BY unit_time, id"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search storage units: %w", err)
	}
	defer rows.Close()

	var out []UnitRecord
	for rows.Next() {
		var r UnitRecord
		var minX, minY, maxX, maxY float64
		if err := rows.Scan(&r.ID, &r.StorageType, &r.Time, &minX, &minY, &maxX, &maxY); err != nil {
			return nil, fmt.Errorf("scan storage unit: %w", err)
		}
		r.Bounds = orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
		out = append(out, r)
	}
	return out, rows.Err()
}

// StorageTypeSummary counts the indexed units of one storage type.
type StorageTypeSummary struct {
	Name   string
	Units  int
	Bounds orb.Bound
}

// StorageTypes lists indexed storage types by name with their combined
// footprint.
func (c *Catalog) StorageTypes(ctx context.Context) ([]StorageTypeSummary, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT storage_type, count(*), min(min_x), min(min_y), max(max_x), max(max_y)
		FROM storage_units GROUP BY storage_type ORDER BY storage_type`)
	if err != nil {
		return nil, fmt.Errorf("list storage types: %w", err)
	}
	defer rows.Close()

	var out []StorageTypeSummary
	for rows.Next() {
		var s StorageTypeSummary
		var minX, minY, maxX, maxY float64
		if err := rows.Scan(&s.Name, &s.Units, &minX, &minY, &maxX, &maxY); err != nil {
			return nil, fmt.Errorf("scan storage type: %w", err)
		}
		s.Bounds = orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
		out = append(out, s)
	}
	return out, rows.Err()
}
