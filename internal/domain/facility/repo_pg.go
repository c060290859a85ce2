package facility

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// PGCatalog reads and writes the facility table.
type PGCatalog struct{ pool *pgxpool.Pool }

var _ CatalogWriter = (*PGCatalog)(nil)

func NewPGCatalog(pool *pgxpool.Pool) *PGCatalog { return &PGCatalog{pool: pool} }

const facilityCols = `id, name, lit_rea, respirateur, scanner, lit`

func scanFacility(row pgx.Row) (Facility, error) {
	var f Facility
	err := row.Scan(&f.ID, &f.Name,
		&f.Capacity[ICUBed], &f.Capacity[Ventilator], &f.Capacity[Scanner], &f.Capacity[WardBed])
	return f, err
}

func (c *PGCatalog) Load(ctx context.Context) ([]Facility, error) {
	return loadFacilities(ctx, c.pool)
}

func loadFacilities(ctx context.Context, q queryable) ([]Facility, error) {
	rows, err := q.Query(ctx, `SELECT `+facilityCols+` FROM facility WHERE active ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("query facilities: %w", err)
	}
	defer rows.Close()
	var items []Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, fmt.Errorf("scan facility: %w", err)
		}
		items = append(items, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facilities: %w", err)
	}
	return items, nil
}

// Save upserts facilities in one transaction; position follows slice order.
func (c *PGCatalog) Save(ctx context.Context, facilities []Facility) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for pos, f := range facilities {
		if err := f.Validate(); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO facility (id, name, lit_rea, respirateur, scanner, lit, position, active)
			VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE)
			ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, lit_rea=EXCLUDED.lit_rea,
				respirateur=EXCLUDED.respirateur, scanner=EXCLUDED.scanner, lit=EXCLUDED.lit,
				position=EXCLUDED.position, active=TRUE, updated_at=NOW()`,
			f.ID, f.Name, f.Capacity[ICUBed], f.Capacity[Ventilator], f.Capacity[Scanner], f.Capacity[WardBed], pos)
		if err != nil {
			return fmt.Errorf("upsert facility %s: %w", f.ID, err)
		}
	}
	return tx.Commit(ctx)
}
