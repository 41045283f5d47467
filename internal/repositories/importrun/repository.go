package importrun

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/heather/pkg/database"
	"github.com/Ramsey-B/heather/pkg/models"
	"github.com/Ramsey-B/heather/pkg/tracing"
	"github.com/google/uuid"
)

// Repository stores run history. Its writes are meant to run outside the reconciliation
// transaction so that a failed run still leaves a row behind.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a running row for feed and returns it.
func (r *Repository) Create(ctx context.Context, feed models.Feed, trigger models.Trigger) (*models.ImportRun, error) {
	ctx, span := tracing.StartSpan(ctx, "importrun.Repository.Create")
	defer span.End()

	run := &models.ImportRun{
		ID:        uuid.NewString(),
		Feed:      feed,
		Trigger:   trigger,
		Status:    models.RunStatusRunning,
		StartedAt: Now(),
		Summary:   database.NewJSONB(map[string]int{}),
	}
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		run.TraceID = &traceID
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ib := importRunStruct.InsertInto(importRunsTable, run)
	query, args := ib.Build()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"feed": feed, "trigger": trigger}).Error("failed to create import run")
		return nil, fmt.Errorf("failed to create import run: %w", err)
	}

	return run, tx.Commit(ctx)
}

// Finish closes a run with its final status, counts and error message.
func (r *Repository) Finish(ctx context.Context, run *models.ImportRun, status models.RunStatus, counts map[string]int, runErr error) error {
	ctx, span := tracing.StartSpan(ctx, "importrun.Repository.Finish")
	defer span.End()

	finishedAt := Now()
	duration := finishedAt.Sub(run.StartedAt).Milliseconds()
	if counts == nil {
		counts = map[string]int{}
	}

	run.Status = status
	run.FinishedAt = &finishedAt
	run.DurationMS = &duration
	run.Summary = database.NewJSONB(counts)
	if runErr != nil {
		msg := runErr.Error()
		run.Error = &msg
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ub := database.NewUpdateBuilder()
	ub.Update(importRunsTable)
	ub.Set(
		ub.Assign("status", run.Status),
		ub.Assign("finished_at", finishedAt),
		ub.Assign("duration_ms", duration),
		ub.Assign("summary", run.Summary),
		ub.Assign("error", run.Error),
	)
	ub.Where(ub.Equal("id", run.ID))
	query, args := ub.Build()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": run.ID, "status": status}).Error("failed to finish import run")
		return fmt.Errorf("failed to finish import run %s: %w", run.ID, err)
	}

	return tx.Commit(ctx)
}

// List returns the most recent runs first.
func (r *Repository) List(ctx context.Context, filter models.ImportRunFilter) ([]models.ImportRun, error) {
	ctx, span := tracing.StartSpan(ctx, "importrun.Repository.List")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sb := importRunStruct.SelectFrom(importRunsTable)
	if filter.Feed != "" {
		sb.Where(sb.Equal("feed", filter.Feed))
	}
	sb.OrderBy("started_at").Desc()
	sb.Limit(listLimit(filter.Limit))
	query, args := sb.Build()

	runs := []models.ImportRun{}
	if err := tx.SelectContext(ctx, &runs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"feed": filter.Feed}).Error("failed to list import runs")
		return nil, fmt.Errorf("failed to list import runs: %w", err)
	}

	return runs, tx.Commit(ctx)
}

// LatestByFeed returns the most recent run of feed, or nil when there is none.
func (r *Repository) LatestByFeed(ctx context.Context, feed models.Feed) (*models.ImportRun, error) {
	ctx, span := tracing.StartSpan(ctx, "importrun.Repository.LatestByFeed")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sb := importRunStruct.SelectFrom(importRunsTable)
	sb.Where(sb.Equal("feed", feed))
	sb.OrderBy("started_at").Desc()
	sb.Limit(1)
	query, args := sb.Build()

	var run models.ImportRun
	if err := tx.GetContext(ctx, &run, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tx.Commit(ctx)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"feed": feed}).Error("failed to get latest import run")
		return nil, fmt.Errorf("failed to get latest import run: %w", err)
	}

	return &run, tx.Commit(ctx)
}

// DeleteBefore prunes runs that started before cutoff.
func (r *Repository) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "importrun.Repository.DeleteBefore")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	db := database.NewDeleteBuilder()
	db.DeleteFrom(importRunsTable)
	db.Where(db.LessThan("started_at", cutoff))
	query, args := db.Build()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to prune import runs")
		return 0, fmt.Errorf("failed to prune import runs: %w", err)
	}
	n, _ := res.RowsAffected()

	return int(n), tx.Commit(ctx)
}
