package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vclabel/spool/internal/config"
	"github.com/vclabel/spool/internal/printer"
	"github.com/vclabel/spool/internal/store"
)

// Session is the single device operation the worker drives. The real
// implementation is printer.Session; dry runs substitute DryRunSession.
type Session interface {
	Print(ctx context.Context, req printer.PrintRequest) error
}

// JobStore is the durable queue boundary. Claiming must be exclusive
// and transitions must survive process restarts.
type JobStore interface {
	ClaimNext(ctx context.Context) (*store.Job, error)
	MarkCompleted(ctx context.Context, id, result string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	ReturnToHeld(ctx context.Context, id string, retryAt time.Time, incrementAttempts bool, lastError string) error
	RecoverClaimed(ctx context.Context) (int, error)
}

// Notifier receives terminal job outcomes. May be nil.
type Notifier interface {
	JobCompleted(jobID string)
	JobFailed(jobID, errMsg string)
}

// Summary reports a one-shot run. Busy counts jobs left held with a
// future retry time.
type Summary struct {
	Processed int
	Failed    int
	Busy      int
}

// Worker drains held jobs one at a time: claim, print, classify the
// outcome, report it back to the store. Only a busy printer defers a
// job; every other error is terminal.
type Worker struct {
	store    JobStore
	session  Session
	notifier Notifier
	cfg      config.QueueConfig
}

func New(jobStore JobStore, session Session, cfg config.QueueConfig) *Worker {
	return &Worker{
		store:   jobStore,
		session: session,
		cfg:     cfg,
	}
}

// WithNotifier attaches a terminal-outcome notifier.
func (w *Worker) WithNotifier(n Notifier) *Worker {
	w.notifier = n
	return w
}

// Run processes jobs until ctx is cancelled, sleeping the poll
// interval whenever nothing is claimable. A single bad job never stops
// the loop.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.recover(ctx); err != nil {
		return err
	}

	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Dur("retry_delay", w.cfg.RetryDelay).
		Int("max_attempts", w.cfg.MaxAttempts).
		Msg("queue worker started")

	for {
		if ctx.Err() != nil {
			log.Info().Msg("queue worker stopping")
			return nil
		}

		claimed, err := w.processOne(ctx)
		if err != nil {
			return err
		}

		if claimed {
			continue
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("queue worker stopping")
			return nil
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// RunOnce processes every currently claimable job and returns. Jobs
// deferred with a future retry time are left for the next invocation.
func (w *Worker) RunOnce(ctx context.Context) (Summary, error) {
	if err := w.recover(ctx); err != nil {
		return Summary{}, err
	}

	var summary Summary

	for ctx.Err() == nil {
		job, err := w.store.ClaimNext(ctx)
		if err != nil {
			return summary, fmt.Errorf("failed to claim job: %w", err)
		}
		if job == nil {
			break
		}

		switch w.execute(ctx, job) {
		case outcomeCompleted:
			summary.Processed++
		case outcomeFailed:
			summary.Failed++
		case outcomeDeferred:
			summary.Busy++
		}
	}

	log.Info().
		Int("processed", summary.Processed).
		Int("failed", summary.Failed).
		Int("busy", summary.Busy).
		Msg("queue pass complete")

	return summary, nil
}

func (w *Worker) recover(ctx context.Context) error {
	recovered, err := w.store.RecoverClaimed(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover claimed jobs: %w", err)
	}
	if recovered > 0 {
		log.Warn().Int("jobs", recovered).Msg("recovered jobs left claimed by a previous worker")
	}
	return nil
}

func (w *Worker) processOne(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNext(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	w.execute(ctx, job)
	return true, nil
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeFailed
	outcomeDeferred
)

// storeCtx returns a short-lived context for recording an observed
// outcome. The run context may already be cancelled by a stop signal;
// losing the transition would strand the job as claimed and reprint it
// on the next startup.
func storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (w *Worker) execute(ctx context.Context, job *store.Job) outcome {
	log.Info().
		Str("job_id", job.ID).
		Int("attempt", job.Attempts+1).
		Msg("printing job")

	err := w.session.Print(ctx, job.Request)

	markCtx, cancel := storeCtx()
	defer cancel()

	if err == nil {
		if markErr := w.store.MarkCompleted(markCtx, job.ID, "printed"); markErr != nil {
			log.Error().Err(markErr).Str("job_id", job.ID).Msg("failed to mark job completed")
		}
		if w.notifier != nil {
			w.notifier.JobCompleted(job.ID)
		}
		log.Info().Str("job_id", job.ID).Msg("job completed")
		return outcomeCompleted
	}

	// A cancelled worker has observed no outcome; put the claim back
	// untouched so the next run picks the job up again.
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		if retErr := w.store.ReturnToHeld(markCtx, job.ID, time.Time{}, false, ""); retErr != nil {
			log.Error().Err(retErr).Str("job_id", job.ID).Msg("failed to return interrupted job")
		}
		log.Warn().Str("job_id", job.ID).Msg("job interrupted, returned to queue")
		return outcomeDeferred
	}

	if errors.Is(err, printer.ErrLockBusy) {
		return w.deferBusy(markCtx, job, err)
	}

	// Connection, protocol and data errors are configuration problems
	// retries cannot fix.
	if markErr := w.store.MarkFailed(markCtx, job.ID, err.Error()); markErr != nil {
		log.Error().Err(markErr).Str("job_id", job.ID).Msg("failed to mark job failed")
	}
	if w.notifier != nil {
		w.notifier.JobFailed(job.ID, err.Error())
	}
	log.Error().Err(err).Str("job_id", job.ID).Msg("job failed")
	return outcomeFailed
}

func (w *Worker) deferBusy(ctx context.Context, job *store.Job, cause error) outcome {
	attempts := job.Attempts + 1

	if attempts >= w.cfg.MaxAttempts {
		if markErr := w.store.MarkFailed(ctx, job.ID, cause.Error()); markErr != nil {
			log.Error().Err(markErr).Str("job_id", job.ID).Msg("failed to mark job failed")
		}
		if w.notifier != nil {
			w.notifier.JobFailed(job.ID, cause.Error())
		}
		log.Error().
			Str("job_id", job.ID).
			Int("attempts", attempts).
			Msg("job failed, printer busy and attempts exhausted")
		return outcomeFailed
	}

	// Fixed delay, not exponential: a busy printer is typically
	// resolved by a human clearing it, not by backing off faster.
	retryAt := time.Now().Add(w.cfg.RetryDelay)
	if err := w.store.ReturnToHeld(ctx, job.ID, retryAt, true, cause.Error()); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("failed to schedule job retry")
		return outcomeFailed
	}

	log.Warn().
		Str("job_id", job.ID).
		Int("attempt", attempts).
		Time("retry_at", retryAt).
		Msg("printer busy, job deferred")
	return outcomeDeferred
}

// DryRunSession classifies every job as a success without contacting
// the device, for exercising the queue logic safely.
type DryRunSession struct{}

func (DryRunSession) Print(_ context.Context, _ printer.PrintRequest) error {
	return nil
}
