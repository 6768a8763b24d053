package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/offer-ingest/internal/ingest/domain"
)

// NamedTable describes a lookup table keyed by a unique name column
type NamedTable struct {
	Entity string
	Table  string
}

var (
	Industries  = NamedTable{Entity: "industry", Table: "industries"}
	Professions = NamedTable{Entity: "profession", Table: "professions"}
)

// naturalKeyLookup holds the two statements of a find-or-create.
// insert must use ON CONFLICT DO NOTHING and RETURN the same columns find selects.
type naturalKeyLookup struct {
	entity string
	find   string
	insert string
}

// findOrCreate returns the row matching the natural key, creating it when absent.
// Losing a creation race to a concurrent ingestion is not an error: the winner's row is re-read.
func findOrCreate[T any](ctx context.Context, uow *UnitOfWork, l naturalKeyLookup, findArgs, insertArgs []any) (*T, bool, error) {
	var row T

	err := uow.get(ctx, &row, l.find, findArgs...)
	if err == nil {
		return &row, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, domain.NewPersistenceError("find "+l.entity, err)
	}

	err = uow.get(ctx, &row, l.insert, insertArgs...)
	if err == nil {
		uow.logger.Debug("Created lookup row",
			slog.String("entity", l.entity),
		)
		return &row, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, domain.NewPersistenceError("create "+l.entity, err)
	}

	uow.logger.Debug("Lost creation race, re-reading winner",
		slog.String("entity", l.entity),
	)

	if err := uow.get(ctx, &row, l.find, findArgs...); err != nil {
		return nil, false, domain.NewPersistenceError("re-read "+l.entity, err)
	}
	return &row, false, nil
}

// ResolveLocation finds or creates the location keyed by (city, country).
// The lookup compares the same expressions as locations_natural_key, so every
// key the index treats as equal is found.
func ResolveLocation(ctx context.Context, uow *UnitOfWork, in *domain.LocationInput) (*domain.Location, bool, error) {
	return findOrCreate[domain.Location](ctx, uow,
		naturalKeyLookup{
			entity: "location",
			find: `
				SELECT id, city, country, region
				FROM locations
				WHERE city = ? AND COALESCE(country, '') = COALESCE(CAST(? AS TEXT), '')
			`,
			insert: `
				INSERT INTO locations (city, country, region)
				VALUES (?, ?, ?)
				ON CONFLICT DO NOTHING
				RETURNING id, city, country, region
			`,
		},
		[]any{in.City, in.Country},
		[]any{in.City, in.Country, in.Region},
	)
}

// ResolveSalary finds or creates the salary band keyed by all four of its parts,
// compared exactly as salaries_natural_key compares them
func ResolveSalary(ctx context.Context, uow *UnitOfWork, in *domain.SalaryInput) (*domain.Salary, bool, error) {
	key := []any{in.MinValue, in.MaxValue, in.Currency, in.Period}
	return findOrCreate[domain.Salary](ctx, uow,
		naturalKeyLookup{
			entity: "salary",
			find: `
				SELECT id, min_value, max_value, currency, period
				FROM salaries
				WHERE COALESCE(min_value, -1) = COALESCE(CAST(? AS DOUBLE PRECISION), -1)
				  AND COALESCE(max_value, -1) = COALESCE(CAST(? AS DOUBLE PRECISION), -1)
				  AND COALESCE(currency, '') = COALESCE(CAST(? AS TEXT), '')
				  AND COALESCE(period, '') = COALESCE(CAST(? AS TEXT), '')
			`,
			insert: `
				INSERT INTO salaries (min_value, max_value, currency, period)
				VALUES (?, ?, ?, ?)
				ON CONFLICT DO NOTHING
				RETURNING id, min_value, max_value, currency, period
			`,
		},
		key,
		key,
	)
}

// ResolveNamed finds or creates a row of a name-keyed table. Names match exactly.
func ResolveNamed(ctx context.Context, uow *UnitOfWork, t NamedTable, name string) (*domain.NamedEntity, bool, error) {
	return findOrCreate[domain.NamedEntity](ctx, uow,
		naturalKeyLookup{
			entity: t.Entity,
			find:   fmt.Sprintf(`SELECT id, name FROM %s WHERE name = ?`, t.Table),
			insert: fmt.Sprintf(`INSERT INTO %s (name) VALUES (?) ON CONFLICT (name) DO NOTHING RETURNING id, name`, t.Table),
		},
		[]any{name},
		[]any{name},
	)
}

// ResolveCompany finds or creates the company keyed by name. When the record also
// carries a company location, that location is resolved on its own and an existing
// company pointing elsewhere is moved to it; no other company column is ever updated.
func ResolveCompany(ctx context.Context, uow *UnitOfWork, in *domain.CompanyInput) (*domain.Company, bool, error) {
	var locationID *int64
	if !in.Location.IsEmpty() {
		loc, _, err := ResolveLocation(ctx, uow, in.Location)
		if err != nil {
			return nil, false, err
		}
		locationID = &loc.ID
	}

	company, created, err := findOrCreate[domain.Company](ctx, uow,
		naturalKeyLookup{
			entity: "company",
			find: `
				SELECT id, name, website, location_id
				FROM companies
				WHERE name = ?
			`,
			insert: `
				INSERT INTO companies (name, website, location_id)
				VALUES (?, ?, ?)
				ON CONFLICT (name) DO NOTHING
				RETURNING id, name, website, location_id
			`,
		},
		[]any{in.Name},
		[]any{in.Name, in.Website, locationID},
	)
	if err != nil {
		return nil, false, err
	}

	if created || locationID == nil {
		return company, created, nil
	}
	if company.LocationID != nil && *company.LocationID == *locationID {
		return company, false, nil
	}

	query := `
		UPDATE companies
		SET location_id = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	if _, err := uow.exec(ctx, query, *locationID, company.ID); err != nil {
		return nil, false, domain.NewPersistenceError("update company location", err)
	}

	uow.logger.Debug("Company location updated",
		slog.Int64("company_id", company.ID),
		slog.Int64("location_id", *locationID),
	)

	company.LocationID = locationID
	return company, false, nil
}
