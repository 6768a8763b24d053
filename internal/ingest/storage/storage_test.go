package storage

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/cuongbtq/offer-ingest/internal/ingest/domain"
	"github.com/cuongbtq/offer-ingest/internal/testutil"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *sqlx.DB) {
	t.Helper()
	db := testutil.OpenSQLite(t)
	return NewStore(db, slog.New(slog.DiscardHandler)), db
}

func ptr[T any](v T) *T {
	return &v
}

func TestUnitOfWork_StateTransitions(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	t.Run("commit closes the unit of work", func(t *testing.T) {
		uow, err := store.Begin(ctx)
		require.NoError(t, err)
		assert.Equal(t, StateOpen, uow.State())

		require.NoError(t, uow.Commit())
		assert.Equal(t, StateCommitted, uow.State())

		assert.ErrorIs(t, uow.Commit(), ErrUnitOfWorkClosed)
		assert.ErrorIs(t, uow.Rollback(), ErrUnitOfWorkClosed)

		_, _, err = ResolveNamed(ctx, uow, Industries, "IT")
		assert.ErrorIs(t, err, ErrUnitOfWorkClosed)
		assert.ErrorIs(t, err, domain.ErrPersistence)
	})

	t.Run("rollback is terminal and repeatable", func(t *testing.T) {
		uow, err := store.Begin(ctx)
		require.NoError(t, err)

		require.NoError(t, uow.Rollback())
		assert.Equal(t, StateAborted, uow.State())
		require.NoError(t, uow.Rollback())
		assert.ErrorIs(t, uow.Commit(), ErrUnitOfWorkClosed)
	})
}

func TestRunInUnitOfWork(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		store, db := newTestStore(t)

		err := store.RunInUnitOfWork(ctx, func(ctx context.Context, uow *UnitOfWork) error {
			_, _, err := ResolveNamed(ctx, uow, Industries, "IT")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 1, testutil.Count(t, db, "industries"))
	})

	t.Run("aborts and returns the original error", func(t *testing.T) {
		store, db := newTestStore(t)
		boom := errors.New("boom")

		var seen *UnitOfWork
		err := store.RunInUnitOfWork(ctx, func(ctx context.Context, uow *UnitOfWork) error {
			seen = uow
			if _, _, err := ResolveNamed(ctx, uow, Industries, "IT"); err != nil {
				return err
			}
			return boom
		})
		assert.Same(t, boom, err)
		assert.Equal(t, StateAborted, seen.State())
		assert.Equal(t, 0, testutil.Count(t, db, "industries"))
	})

	t.Run("aborts before a panic propagates", func(t *testing.T) {
		store, db := newTestStore(t)

		var seen *UnitOfWork
		assert.Panics(t, func() {
			_ = store.RunInUnitOfWork(ctx, func(ctx context.Context, uow *UnitOfWork) error {
				seen = uow
				if _, _, err := ResolveNamed(ctx, uow, Industries, "IT"); err != nil {
					return err
				}
				panic("resolver exploded")
			})
		})
		assert.Equal(t, StateAborted, seen.State())
		assert.Equal(t, 0, testutil.Count(t, db, "industries"))
	})
}

func TestResolveNamed(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)

	uow, err := store.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()

	first, created, err := ResolveNamed(ctx, uow, Professions, "Backend Engineer")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := ResolveNamed(ctx, uow, Professions, "Backend Engineer")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	// exact match: a different spelling is a different profession
	other, created, err := ResolveNamed(ctx, uow, Professions, "backend engineer")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)

	require.NoError(t, uow.Commit())
	assert.Equal(t, 2, testutil.Count(t, db, "professions"))
}

func TestResolveNamed_LostCreationRace(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)

	// the trigger plays a concurrent ingestion that creates the row between our
	// lookup and our insert
	_, err := db.Exec(`
		CREATE TRIGGER industries_racer BEFORE INSERT ON industries
		WHEN NEW.name = 'Contended' AND NOT EXISTS (SELECT 1 FROM industries WHERE name = 'Contended')
		BEGIN
			INSERT INTO industries (name) VALUES ('Contended');
		END
	`)
	require.NoError(t, err)

	uow, err := store.Begin(ctx)
	require.NoError(t, err)

	industry, created, err := ResolveNamed(ctx, uow, Industries, "Contended")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Contended", industry.Name)

	require.NoError(t, uow.Commit())
	assert.Equal(t, 1, testutil.Count(t, db, "industries"))
}

func TestResolveLocation_NullCountryIsPartOfTheKey(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)

	uow, err := store.Begin(ctx)
	require.NoError(t, err)

	noCountry, created, err := ResolveLocation(ctx, uow, &domain.LocationInput{City: "Paris"})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := ResolveLocation(ctx, uow, &domain.LocationInput{City: "Paris", Region: ptr("IDF")})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, noCountry.ID, again.ID)
	assert.Nil(t, again.Region, "existing rows are returned unchanged")

	france, created, err := ResolveLocation(ctx, uow, &domain.LocationInput{City: "Paris", Country: ptr("France")})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, noCountry.ID, france.ID)

	require.NoError(t, uow.Commit())
	assert.Equal(t, 2, testutil.Count(t, db, "locations"))
}

func TestResolveLocation_EmptyCountryMatchesNull(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)

	var first, second *domain.Location
	err := store.RunInUnitOfWork(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		var err error
		if first, _, err = ResolveLocation(ctx, uow, &domain.LocationInput{City: "Paris"}); err != nil {
			return err
		}
		second, _, err = ResolveLocation(ctx, uow, &domain.LocationInput{City: "Paris", Country: ptr("")})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, testutil.Count(t, db, "locations"))
}

func TestResolveSalary_KeyMatchesUniqueIndex(t *testing.T) {
	tests := []struct {
		name  string
		first *domain.SalaryInput
		again *domain.SalaryInput
	}{
		{
			name:  "negative one minimum and null minimum",
			first: &domain.SalaryInput{MaxValue: ptr(100.0), Currency: ptr("EUR")},
			again: &domain.SalaryInput{MinValue: ptr(-1.0), MaxValue: ptr(100.0), Currency: ptr("EUR")},
		},
		{
			name:  "empty and null period",
			first: &domain.SalaryInput{MaxValue: ptr(100.0), Currency: ptr("EUR"), Period: ptr("")},
			again: &domain.SalaryInput{MaxValue: ptr(100.0), Currency: ptr("EUR")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, db := newTestStore(t)

			var first, again *domain.Salary
			err := store.RunInUnitOfWork(ctx, func(ctx context.Context, uow *UnitOfWork) error {
				var err error
				if first, _, err = ResolveSalary(ctx, uow, tt.first); err != nil {
					return err
				}
				again, _, err = ResolveSalary(ctx, uow, tt.again)
				return err
			})
			require.NoError(t, err)
			assert.Equal(t, first.ID, again.ID)
			assert.Equal(t, 1, testutil.Count(t, db, "salaries"))
		})
	}
}

func TestResolveSalary(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)

	uow, err := store.Begin(ctx)
	require.NoError(t, err)

	band := &domain.SalaryInput{MaxValue: ptr(5000.0), Currency: ptr("EUR")}

	first, created, err := ResolveSalary(ctx, uow, band)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Nil(t, first.MinValue)

	again, created, err := ResolveSalary(ctx, uow, &domain.SalaryInput{MaxValue: ptr(5000.0), Currency: ptr("EUR")})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	monthly, created, err := ResolveSalary(ctx, uow, &domain.SalaryInput{MaxValue: ptr(5000.0), Currency: ptr("EUR"), Period: ptr("month")})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, monthly.ID)

	require.NoError(t, uow.Commit())
	assert.Equal(t, 2, testutil.Count(t, db, "salaries"))
}

func TestResolveCompany_LocationBackfill(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)

	resolve := func(in *domain.CompanyInput) *domain.Company {
		t.Helper()
		var company *domain.Company
		err := store.RunInUnitOfWork(ctx, func(ctx context.Context, uow *UnitOfWork) error {
			var err error
			company, _, err = ResolveCompany(ctx, uow, in)
			return err
		})
		require.NoError(t, err)
		return company
	}

	acme := resolve(&domain.CompanyInput{Name: "Acme", Website: ptr("https://acme.test")})
	assert.Nil(t, acme.LocationID)

	berlin := resolve(&domain.CompanyInput{Name: "Acme", Location: &domain.LocationInput{City: "Berlin", Country: ptr("Germany")}})
	require.NotNil(t, berlin.LocationID)
	assert.Equal(t, acme.ID, berlin.ID)

	// no location in the message keeps the current one
	unchanged := resolve(&domain.CompanyInput{Name: "Acme"})
	assert.Equal(t, *berlin.LocationID, *unchanged.LocationID)

	// other attributes of an existing company are never rewritten
	renamedSite := resolve(&domain.CompanyInput{Name: "Acme", Website: ptr("https://other.test")})
	assert.Equal(t, "https://acme.test", *renamedSite.Website)

	munich := resolve(&domain.CompanyInput{Name: "Acme", Location: &domain.LocationInput{City: "Munich", Country: ptr("Germany")}})
	assert.NotEqual(t, *berlin.LocationID, *munich.LocationID)

	var stored domain.Company
	require.NoError(t, db.Get(&stored, `SELECT id, name, website, location_id FROM companies WHERE name = 'Acme'`))
	assert.Equal(t, *munich.LocationID, *stored.LocationID)
	assert.Equal(t, 1, testutil.Count(t, db, "companies"))
	assert.Equal(t, 2, testutil.Count(t, db, "locations"))
}

func TestUpsertJobOffer(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)

	upsert := func(r *domain.Record, fk domain.ForeignKeys) *domain.JobOffer {
		t.Helper()
		var offer *domain.JobOffer
		err := store.RunInUnitOfWork(ctx, func(ctx context.Context, uow *UnitOfWork) error {
			var err error
			offer, err = UpsertJobOffer(ctx, uow, r, fk)
			return err
		})
		require.NoError(t, err)
		return offer
	}

	record := &domain.Record{ExternalID: "X1", Title: "Engineer", SourceURL: "http://a", Description: "first"}
	first := upsert(record, domain.ForeignKeys{})
	assert.Equal(t, "X1", first.ExternalID)
	assert.Nil(t, first.CompanyID)

	var industryID int64
	require.NoError(t, db.Get(&industryID, `INSERT INTO industries (name) VALUES ('IT') RETURNING id`))

	record.Title = "Senior Engineer"
	record.Description = ""
	second := upsert(record, domain.ForeignKeys{IndustryID: &industryID})
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Senior Engineer", second.Title)
	require.NotNil(t, second.Description, "omitted optional columns keep their value")
	assert.Equal(t, "first", *second.Description)
	require.NotNil(t, second.IndustryID)
	assert.Equal(t, industryID, *second.IndustryID)

	third := upsert(record, domain.ForeignKeys{})
	assert.Nil(t, third.IndustryID, "an omitted nested object clears its foreign key")
	require.NotNil(t, third.Description)

	assert.Equal(t, 1, testutil.Count(t, db, "job_offers"))
	assert.Equal(t, 1, testutil.Count(t, db, "industries"))
}

func TestUpsertJobOffer_NoRowReturned(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)

	record := &domain.Record{ExternalID: "X1", Title: "Engineer", SourceURL: "http://a"}
	require.NoError(t, store.RunInUnitOfWork(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		_, err := UpsertJobOffer(ctx, uow, record, domain.ForeignKeys{})
		return err
	}))

	// a conflicting row the update refuses to touch leaves RETURNING empty
	original := upsertJobOfferQuery
	upsertJobOfferQuery = strings.Replace(original, "RETURNING", "WHERE false RETURNING", 1)
	t.Cleanup(func() { upsertJobOfferQuery = original })

	err := store.RunInUnitOfWork(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		industry, _, err := ResolveNamed(ctx, uow, Industries, "IT")
		if err != nil {
			return err
		}
		_, err = UpsertJobOffer(ctx, uow, &domain.Record{ExternalID: "X1", Title: "Changed", SourceURL: "http://b"},
			domain.ForeignKeys{IndustryID: &industry.ID})
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpsertFailure)
	assert.NotErrorIs(t, err, domain.ErrPersistence)

	assert.Equal(t, 0, testutil.Count(t, db, "industries"))
	var title string
	require.NoError(t, db.Get(&title, `SELECT title FROM job_offers WHERE external_id = 'X1'`))
	assert.Equal(t, "Engineer", title)
}

func TestUpsertJobOfferQuery_WritesOnlyAllowListedColumns(t *testing.T) {
	for _, nested := range []string{"company,", "salary,", "benefits", "keywords", "workModes", "contractTypes"} {
		assert.NotContains(t, upsertJobOfferQuery, " "+nested)
	}
	assert.Contains(t, upsertJobOfferQuery, "ON CONFLICT (external_id) DO UPDATE SET")
	assert.NotContains(t, upsertJobOfferQuery, "external_id = EXCLUDED.external_id")
}

func TestLinker_ReplaceAll(t *testing.T) {
	ctx := context.Background()
	store, db := newTestStore(t)

	var offerID int64
	require.NoError(t, db.Get(&offerID, `INSERT INTO job_offers (external_id, title, source_url) VALUES ('X1', 'Engineer', 'http://a') RETURNING id`))

	link := func(names ...string) []string {
		t.Helper()
		var linked []string
		err := store.RunInUnitOfWork(ctx, func(ctx context.Context, uow *UnitOfWork) error {
			ids := make([]int64, 0, len(names))
			for _, n := range names {
				tag, _, err := ResolveNamed(ctx, uow, Benefits.NamedTable, n)
				if err != nil {
					return err
				}
				ids = append(ids, tag.ID)
			}
			if err := uow.Linker(Benefits).ReplaceAll(ctx, offerID, ids); err != nil {
				return err
			}
			var err error
			linked, err = AssociatedNames(ctx, uow, Benefits, offerID)
			return err
		})
		require.NoError(t, err)
		return linked
	}

	assert.Equal(t, []string{"A", "B"}, link("A", "B"))
	assert.Equal(t, []string{"B", "C"}, link("B", "C"))
	assert.Equal(t, []string{"B", "C"}, link("C", "B"))
	assert.Empty(t, link())

	// tag rows themselves are never deleted
	assert.Equal(t, 3, testutil.Count(t, db, "benefits"))
}
