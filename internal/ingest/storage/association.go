package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/offer-ingest/internal/ingest/domain"
	"github.com/jmoiron/sqlx"
)

// TagKind describes a name-keyed tag table and its join table with job_offers
type TagKind struct {
	NamedTable
	JoinTable string
	Column    string
}

var (
	Benefits      = TagKind{NamedTable{"benefit", "benefits"}, "job_offer_benefits", "benefit_id"}
	Requirements  = TagKind{NamedTable{"requirement", "requirements"}, "job_offer_requirements", "requirement_id"}
	WorkModes     = TagKind{NamedTable{"work mode", "work_modes"}, "job_offer_work_modes", "work_mode_id"}
	ContractTypes = TagKind{NamedTable{"contract type", "contract_types"}, "job_offer_contract_types", "contract_type_id"}
	Keywords      = TagKind{NamedTable{"keyword", "keywords"}, "job_offer_keywords", "keyword_id"}
)

// AssociationLinker replaces the full membership of one job offer association
type AssociationLinker interface {
	ReplaceAll(ctx context.Context, jobOfferID int64, ids []int64) error
}

// Linker returns the AssociationLinker for kind bound to this unit of work
func (u *UnitOfWork) Linker(kind TagKind) AssociationLinker {
	return &joinTableLinker{uow: u, kind: kind}
}

type joinTableLinker struct {
	uow  *UnitOfWork
	kind TagKind
}

// ReplaceAll makes ids the exact member set: stale rows are deleted, missing rows
// inserted and rows already present are left alone.
func (l *joinTableLinker) ReplaceAll(ctx context.Context, jobOfferID int64, ids []int64) error {
	var (
		query string
		args  []any
		err   error
	)

	if len(ids) == 0 {
		query = fmt.Sprintf(`DELETE FROM %s WHERE job_offer_id = ?`, l.kind.JoinTable)
		args = []any{jobOfferID}
	} else {
		query, args, err = sqlx.In(
			fmt.Sprintf(`DELETE FROM %s WHERE job_offer_id = ? AND %s NOT IN (?)`, l.kind.JoinTable, l.kind.Column),
			jobOfferID, ids,
		)
		if err != nil {
			return domain.NewPersistenceError("build "+l.kind.Entity+" delete", err)
		}
	}

	res, err := l.uow.exec(ctx, query, args...)
	if err != nil {
		return domain.NewPersistenceError("remove stale "+l.kind.Entity+" links", err)
	}
	removed, _ := res.RowsAffected()

	insert := fmt.Sprintf(`
		INSERT INTO %s (job_offer_id, %s)
		VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, l.kind.JoinTable, l.kind.Column)

	var added int64
	for _, id := range ids {
		res, err := l.uow.exec(ctx, insert, jobOfferID, id)
		if err != nil {
			return domain.NewPersistenceError("link "+l.kind.Entity, err)
		}
		n, _ := res.RowsAffected()
		added += n
	}

	l.uow.logger.Debug("Associations replaced",
		slog.String("entity", l.kind.Entity),
		slog.Int64("job_offer_id", jobOfferID),
		slog.Int64("removed", removed),
		slog.Int64("added", added),
	)

	return nil
}

// AssociatedNames lists the names currently linked to the job offer for kind
func AssociatedNames(ctx context.Context, uow *UnitOfWork, kind TagKind, jobOfferID int64) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT t.name
		FROM %s j
		JOIN %s t ON t.id = j.%s
		WHERE j.job_offer_id = ?
		ORDER BY t.name
	`, kind.JoinTable, kind.Table, kind.Column)

	var names []string
	if err := uow.selectRows(ctx, &names, query, jobOfferID); err != nil {
		return nil, domain.NewPersistenceError("list "+kind.Entity+" links", err)
	}
	return names, nil
}
