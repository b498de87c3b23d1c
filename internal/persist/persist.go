// Package persist hands accumulated listings to a record store with an
// at-most-once guarantee per (source, reference).
package persist

import (
	"context"
	"errors"
	"log/slog"

	"github.com/amishk599/jobflow/internal/model"
)

// Persister writes listings one by one; no transaction spans a batch.
type Persister struct {
	store  model.RecordStore
	logger *slog.Logger
}

func NewPersister(store model.RecordStore, logger *slog.Logger) *Persister {
	return &Persister{store: store, logger: logger}
}

// Persist attempts every listing independently. Duplicates, including
// constraint races with concurrent writers, are counted as skipped; store
// errors are counted as failed and do not stop the batch.
func (p *Persister) Persist(ctx context.Context, listings []model.Listing) model.PersistenceReport {
	var report model.PersistenceReport
	for _, l := range listings {
		res, err := p.persistOne(ctx, l)
		switch {
		case err != nil:
			report.Failed++
			report.Failures = append(report.Failures, model.PersistenceFailure{Key: l.Key(), Err: err})
			p.logger.Warn("listing not persisted", "key", l.Key().String(), "error", err)
		case res == model.Duplicate:
			report.SkippedDuplicate++
			p.logger.Debug("duplicate listing skipped", "key", l.Key().String())
		default:
			report.Inserted++
		}
	}

	p.logger.Info("persistence complete",
		"inserted", report.Inserted,
		"skipped_duplicate", report.SkippedDuplicate,
		"failed", report.Failed,
	)
	return report
}

func (p *Persister) persistOne(ctx context.Context, l model.Listing) (model.InsertResult, error) {
	if err := l.Validate(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res, err := p.store.UpsertIfAbsent(ctx, l)
	if errors.Is(err, model.ErrDuplicate) {
		return model.Duplicate, nil
	}
	return res, err
}
