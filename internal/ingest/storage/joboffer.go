package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/offer-ingest/internal/ingest/domain"
)

// jobOfferColumn maps one job_offers column to its value for a given record.
// An optional column keeps its stored value when the record leaves it empty.
// Foreign keys are never optional: an omitted nested object clears the link.
type jobOfferColumn struct {
	name     string
	optional bool
	value    func(r *domain.Record, fk domain.ForeignKeys) any
}

// jobOfferColumns is the complete list of columns the upsert writes. Nested record
// fields (company, salary, location, industry, profession and every tag list) are
// not columns; they reach the row only as resolved ids or through join tables.
// Omitted optional scalars mean "not provided", the same as an omitted tag list.
var jobOfferColumns = []jobOfferColumn{
	{"external_id", false, func(r *domain.Record, _ domain.ForeignKeys) any { return r.ExternalID }},
	{"title", false, func(r *domain.Record, _ domain.ForeignKeys) any { return r.Title }},
	{"source_url", false, func(r *domain.Record, _ domain.ForeignKeys) any { return r.SourceURL }},
	{"description", true, func(r *domain.Record, _ domain.ForeignKeys) any { return nullString(r.Description) }},
	{"seniority", true, func(r *domain.Record, _ domain.ForeignKeys) any { return nullString(r.Seniority) }},
	{"language", true, func(r *domain.Record, _ domain.ForeignKeys) any { return nullString(r.Language) }},
	{"published_at", true, func(r *domain.Record, _ domain.ForeignKeys) any { return nullString(r.PublishedAt) }},
	{"expires_at", true, func(r *domain.Record, _ domain.ForeignKeys) any { return nullString(r.ExpiresAt) }},
	{"company_id", false, func(_ *domain.Record, fk domain.ForeignKeys) any { return fk.CompanyID }},
	{"salary_id", false, func(_ *domain.Record, fk domain.ForeignKeys) any { return fk.SalaryID }},
	{"location_id", false, func(_ *domain.Record, fk domain.ForeignKeys) any { return fk.LocationID }},
	{"industry_id", false, func(_ *domain.Record, fk domain.ForeignKeys) any { return fk.IndustryID }},
	{"profession_id", false, func(_ *domain.Record, fk domain.ForeignKeys) any { return fk.ProfessionID }},
}

var upsertJobOfferQuery = buildUpsertJobOfferQuery()

func buildUpsertJobOfferQuery() string {
	names := make([]string, len(jobOfferColumns))
	placeholders := make([]string, len(jobOfferColumns))
	var updates []string
	for i, c := range jobOfferColumns {
		names[i] = c.name
		placeholders[i] = "?"
		switch {
		case c.name == "external_id":
		case c.optional:
			updates = append(updates, fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, job_offers.%s)", c.name, c.name, c.name))
		default:
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c.name, c.name))
		}
	}
	updates = append(updates, "updated_at = CURRENT_TIMESTAMP")

	return fmt.Sprintf(`
		INSERT INTO job_offers (%s)
		VALUES (%s)
		ON CONFLICT (external_id) DO UPDATE SET %s
		RETURNING id, %s
	`,
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
		strings.Join(names, ", "),
	)
}

// UpsertJobOffer inserts the job offer or overwrites the row with the same external_id
func UpsertJobOffer(ctx context.Context, uow *UnitOfWork, r *domain.Record, fk domain.ForeignKeys) (*domain.JobOffer, error) {
	args := make([]any, len(jobOfferColumns))
	for i, c := range jobOfferColumns {
		args[i] = c.value(r, fk)
	}

	var offer domain.JobOffer
	if err := uow.get(ctx, &offer, upsertJobOfferQuery, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: external_id %s", domain.ErrUpsertFailure, r.ExternalID)
		}
		return nil, domain.NewPersistenceError("upsert job offer", err)
	}

	uow.logger.Debug("Job offer upserted",
		slog.Int64("job_offer_id", offer.ID),
		slog.String("external_id", offer.ExternalID),
	)

	return &offer, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
