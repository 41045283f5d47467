package reconcile

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	appcontext "github.com/Ramsey-B/heather/pkg/context"
	importerrors "github.com/Ramsey-B/heather/pkg/errors"
	"github.com/Ramsey-B/heather/pkg/metrics"
	"github.com/Ramsey-B/heather/pkg/models"
)

// Option configures the run lifecycle shared by both reconcilers.
type Option func(*lifecycle)

// WithRunRecorder writes one history row per run.
func WithRunRecorder(runs RunRecorder) Option {
	return func(l *lifecycle) {
		l.runs = runs
	}
}

// WithEventPublisher announces every finished run.
func WithEventPublisher(events EventPublisher) Option {
	return func(l *lifecycle) {
		l.events = events
	}
}

// WithClock replaces the wall clock used for durations and event timestamps.
func WithClock(clock func() time.Time) Option {
	return func(l *lifecycle) {
		l.clock = clock
	}
}

// lifecycle is the part of a run shared by both reconcilers: guard, history, metrics,
// events and the summary log line.
type lifecycle struct {
	feed   models.Feed
	guard  *RunGuard
	uow    UnitOfWork
	runs   RunRecorder
	events EventPublisher
	clock  func() time.Time
	logger ectologger.Logger
}

func newLifecycle(feed models.Feed, uow UnitOfWork, logger ectologger.Logger, opts []Option) lifecycle {
	l := lifecycle{
		feed:   feed,
		guard:  &RunGuard{},
		uow:    uow,
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&l)
	}
	return l
}

// InProgress reports whether a run currently holds the guard.
func (l *lifecycle) InProgress() bool {
	return l.guard.Running()
}

// Name is the feed the reconciler imports.
func (l *lifecycle) Name() string {
	return string(l.feed)
}

func triggerOf(ctx context.Context) models.Trigger {
	if t := models.Trigger(appcontext.GetTrigger(ctx)); t != "" {
		return t
	}
	return models.TriggerManual
}

// begin opens the history row. History is best effort and never blocks a run.
func (l *lifecycle) begin(ctx context.Context) (context.Context, *models.ImportRun) {
	ctx = appcontext.SetFeed(ctx, string(l.feed))
	if l.runs == nil {
		return ctx, nil
	}

	run, err := l.runs.Create(ctx, l.feed, triggerOf(ctx))
	if err != nil {
		l.logger.WithContext(ctx).WithError(err).WithFields(appcontext.Fields(ctx)).Warn("failed to record import run start")
		return ctx, nil
	}
	return appcontext.SetRunID(ctx, run.ID), run
}

// skipped logs a run that lost the guard. It writes no history and publishes no event.
func (l *lifecycle) skipped(ctx context.Context) {
	ctx = appcontext.SetFeed(ctx, string(l.feed))
	l.logger.WithContext(ctx).WithFields(appcontext.Fields(ctx)).Warnf("%s import already in progress; skipping", l.feed)
	metrics.RecordImportRun(string(l.feed), string(models.RunStatusSkipped), 0, nil)
}

// finish closes the history row, records metrics, logs the summary and publishes the event.
func (l *lifecycle) finish(ctx context.Context, run *models.ImportRun, result models.RunResult, runErr error) {
	status := models.RunStatusSucceeded
	if runErr != nil {
		status = models.RunStatusFailed
	}
	counts := result.Counts()

	metrics.RecordImportRun(string(l.feed), string(status), result.Elapsed().Seconds(), counts)

	fields := appcontext.Fields(ctx)
	for k, v := range counts {
		fields[k] = v
	}
	fields["duration_ms"] = result.Elapsed().Milliseconds()
	fields["status"] = status

	log := l.logger.WithContext(ctx).WithFields(fields)
	if runErr != nil {
		log.WithError(runErr).Errorf("%s import failed", l.feed)
	} else {
		log.Infof("%s import finished", l.feed)
	}

	if run != nil {
		if err := l.runs.Finish(ctx, run, status, counts, runErr); err != nil {
			l.logger.WithContext(ctx).WithError(err).Warn("failed to record import run result")
		}
	}

	l.publish(ctx, run, status, result, runErr)
}

func (l *lifecycle) publish(ctx context.Context, run *models.ImportRun, status models.RunStatus, result models.RunResult, runErr error) {
	if l.events == nil {
		return
	}

	evt := &models.ImportEvent{
		Type:       models.EventImportCompleted,
		Feed:       l.feed,
		Trigger:    triggerOf(ctx),
		Status:     status,
		Counts:     result.Counts(),
		DurationMS: result.Elapsed().Milliseconds(),
		Timestamp:  l.clock(),
	}
	if run != nil {
		evt.RunID = run.ID
	}
	if runErr != nil {
		evt.Type = models.EventImportFailed
		evt.Error = runErr.Error()
	}

	if err := l.events.PublishImportEvent(ctx, evt); err != nil {
		l.logger.WithContext(ctx).WithError(err).Warn("failed to publish import event")
	}
}

// classify passes import errors through and wraps anything else as a reconciliation failure.
func classify(err error, msg string) error {
	if err == nil || importerrors.IsImportError(err) {
		return err
	}
	return importerrors.ReconciliationFailure(msg, err)
}
