package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/offer-ingest/internal/ingest/domain"
	"github.com/cuongbtq/offer-ingest/internal/ingest/storage"
	"golang.org/x/sync/errgroup"
)

// Config holds pipeline configuration. It is validated by the caller at startup.
type Config struct {
	Logger      *slog.Logger
	Store       *storage.Store
	PayloadKey  string
	MaxParallel int
}

// Pipeline commits one extracted job offer per call: validate, resolve dependents,
// upsert the root row, link associations. All of it happens in one unit of work.
type Pipeline struct {
	logger      *slog.Logger
	store       *storage.Store
	payloadKey  string
	maxParallel int
}

// NewPipeline creates a new Pipeline instance
func NewPipeline(cfg *Config) *Pipeline {
	payloadKey := cfg.PayloadKey
	if payloadKey == "" {
		payloadKey = domain.DefaultPayloadKey
	}

	return &Pipeline{
		logger:      cfg.Logger,
		store:       cfg.Store,
		payloadKey:  payloadKey,
		maxParallel: cfg.MaxParallel,
	}
}

// association pairs a tag kind with the record field that feeds it
type association struct {
	kind  storage.TagKind
	names func(r *domain.Record) []string
}

var associations = []association{
	{storage.Benefits, func(r *domain.Record) []string { return r.Benefits }},
	{storage.Requirements, func(r *domain.Record) []string { return r.Requirements }},
	{storage.WorkModes, func(r *domain.Record) []string { return r.WorkModes }},
	{storage.ContractTypes, func(r *domain.Record) []string { return r.ContractTypes }},
	{storage.Keywords, func(r *domain.Record) []string { return r.Keywords }},
}

// Ingest parses raw and commits the job offer it describes. Either everything the
// record implies is committed or nothing is, and the error says why.
func (p *Pipeline) Ingest(ctx context.Context, raw string) error {
	_, err := p.IngestOffer(ctx, raw)
	return err
}

// IngestOffer is Ingest returning the committed job offer row
func (p *Pipeline) IngestOffer(ctx context.Context, raw string) (*domain.JobOffer, error) {
	start := time.Now()

	record, err := domain.ParseRecord(raw, p.payloadKey)
	if err != nil {
		p.logger.Warn("Rejected extraction payload",
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	logger := p.logger.With(slog.String("external_id", record.ExternalID))

	var offer *domain.JobOffer
	err = p.store.RunInUnitOfWork(ctx, func(ctx context.Context, uow *storage.UnitOfWork) error {
		fks, err := p.resolveDependents(ctx, uow, record)
		if err != nil {
			return err
		}

		offer, err = storage.UpsertJobOffer(ctx, uow, record, fks)
		if err != nil {
			return err
		}

		for _, a := range associations {
			if err := p.link(ctx, uow, offer.ID, a.kind, a.names(record)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("Job offer ingestion aborted",
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	logger.Info("Job offer ingested",
		slog.Int64("job_offer_id", offer.ID),
		slog.Duration("duration", time.Since(start)),
	)
	return offer, nil
}

// resolveDependents resolves every nested object the record carries, concurrently.
// The job and company locations may share a key; the unit of work serializes
// their statements and findOrCreate settles the duplicate. Across transactions
// on Postgres the same overlap can deadlock, which the worker retries as transient.
func (p *Pipeline) resolveDependents(ctx context.Context, uow *storage.UnitOfWork, r *domain.Record) (domain.ForeignKeys, error) {
	var fks domain.ForeignKeys

	g, gctx := errgroup.WithContext(ctx)
	if p.maxParallel > 0 {
		g.SetLimit(p.maxParallel)
	}

	if !r.Location.IsEmpty() {
		g.Go(func() error {
			loc, _, err := storage.ResolveLocation(gctx, uow, r.Location)
			if err != nil {
				return err
			}
			fks.LocationID = &loc.ID
			return nil
		})
	}

	if !r.Company.IsEmpty() {
		g.Go(func() error {
			company, _, err := storage.ResolveCompany(gctx, uow, r.Company)
			if err != nil {
				return err
			}
			fks.CompanyID = &company.ID
			return nil
		})
	}

	if !r.Salary.IsEmpty() {
		g.Go(func() error {
			salary, _, err := storage.ResolveSalary(gctx, uow, r.Salary)
			if err != nil {
				return err
			}
			fks.SalaryID = &salary.ID
			return nil
		})
	}

	if r.Industry != "" {
		g.Go(func() error {
			industry, _, err := storage.ResolveNamed(gctx, uow, storage.Industries, r.Industry)
			if err != nil {
				return err
			}
			fks.IndustryID = &industry.ID
			return nil
		})
	}

	if r.Profession != "" {
		g.Go(func() error {
			profession, _, err := storage.ResolveNamed(gctx, uow, storage.Professions, r.Profession)
			if err != nil {
				return err
			}
			fks.ProfessionID = &profession.ID
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return domain.ForeignKeys{}, err
	}
	return fks, nil
}

// link resolves every name of one association kind and replaces the job offer's
// membership with exactly that set. An empty list leaves the membership untouched.
func (p *Pipeline) link(ctx context.Context, uow *storage.UnitOfWork, jobOfferID int64, kind storage.TagKind, names []string) error {
	names = distinctNames(names)
	if len(names) == 0 {
		return nil
	}

	ids := make([]int64, len(names))

	g, gctx := errgroup.WithContext(ctx)
	if p.maxParallel > 0 {
		g.SetLimit(p.maxParallel)
	}
	for i, name := range names {
		g.Go(func() error {
			tag, _, err := storage.ResolveNamed(gctx, uow, kind.NamedTable, name)
			if err != nil {
				return err
			}
			ids[i] = tag.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("resolve %s: %w", kind.Entity, err)
	}

	return uow.Linker(kind).ReplaceAll(ctx, jobOfferID, ids)
}

// distinctNames drops empty names and repeats, keeping first-seen order
func distinctNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
