// Package cleanup runs the periodic retention sweep and the reminder mails.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-doubleoptin/internal/application/optin"
	"github.com/go-doubleoptin/internal/events"
	"github.com/go-doubleoptin/internal/pkg/distlock"
)

// defaultSafetyFloor bounds reminder candidates when no floor is configured.
const defaultSafetyFloor = 30 * 24 * time.Hour

// Report summarizes one sweep.
type Report struct {
	DeletedConfirmed   int      `json:"deleted_confirmed"`
	DeletedUnconfirmed int      `json:"deleted_unconfirmed"`
	Reminders          int      `json:"reminders"`
	ReminderHashes     []string `json:"-"`
	// Skipped is set when another instance held the sweep lock.
	Skipped bool `json:"skipped"`
}

type Config struct {
	Interval time.Duration
	Lock     distlock.Lock
	Now      func() time.Time
	Log      *slog.Logger
}

// Worker deletes records past their retention window and sends the one-time
// reminder to pending records. A lock keeps concurrent instances from sweeping
// twice.
type Worker struct {
	repo     optin.Repository
	engine   *optin.Engine
	events   *events.Dispatcher
	lock     distlock.Lock
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

func NewWorker(repo optin.Repository, engine *optin.Engine, dispatcher *events.Dispatcher, cfg Config) *Worker {
	w := &Worker{
		repo:     repo,
		engine:   engine,
		events:   dispatcher,
		lock:     cfg.Lock,
		interval: cfg.Interval,
		now:      cfg.Now,
		log:      cfg.Log,
	}
	if w.lock == nil {
		w.lock = &distlock.LocalLock{}
	}
	if w.interval <= 0 {
		w.interval = time.Hour
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.log == nil {
		w.log = slog.Default()
	}
	return w
}

// Start sweeps once per interval until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.log.Info("cleanup worker started", "interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			w.log.Info("cleanup worker stopping")
			return
		case <-ticker.C:
			start := time.Now()
			rep, err := w.RunOnce(ctx)
			if err != nil {
				w.log.Error("cleanup sweep", "err", err)
			}
			if rep.Skipped {
				continue
			}
			w.log.Info("cleanup sweep finished",
				"deleted_confirmed", rep.DeletedConfirmed,
				"deleted_unconfirmed", rep.DeletedUnconfirmed,
				"reminders", rep.Reminders,
				"took", time.Since(start).String())
		}
	}
}

// RunOnce performs one sweep. A failing category does not stop the others;
// their errors are joined.
func (w *Worker) RunOnce(ctx context.Context) (Report, error) {
	var rep Report
	ok, err := w.lock.Acquire(ctx)
	if err != nil {
		return rep, fmt.Errorf("cleanup lock: %w", err)
	}
	if !ok {
		rep.Skipped = true
		return rep, nil
	}
	defer func() {
		if err := w.lock.Release(context.WithoutCancel(ctx)); err != nil {
			w.log.Warn("release cleanup lock", "err", err)
		}
	}()

	settings := w.engine.Settings()
	now := w.now().UTC()
	var errs []error

	if keep := settings.RetentionConfirmed.Duration(); keep > 0 {
		n, files, err := w.repo.DeleteOlderThan(ctx, now.Add(-keep), true)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete confirmed: %w", err))
		}
		w.engine.RemoveFiles(ctx, files)
		rep.DeletedConfirmed = n
		if n > 0 {
			w.events.Dispatch(ctx, &events.OptInDeleted{Type: events.SourceConfirmed, Count: n})
		}
	}

	if keep := settings.RetentionUnconfirmed.Duration(); keep > 0 {
		n, files, err := w.repo.DeleteOlderThan(ctx, now.Add(-keep), false)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete unconfirmed: %w", err))
		}
		w.engine.RemoveFiles(ctx, files)
		rep.DeletedUnconfirmed = n
		if n > 0 {
			w.events.Dispatch(ctx, &events.OptInExpired{CleanupType: events.SourceUnconfirmed, Count: n})
		}
	}

	if err := w.sendReminders(ctx, now, &rep); err != nil {
		errs = append(errs, err)
	}
	return rep, errors.Join(errs...)
}

func (w *Worker) sendReminders(ctx context.Context, now time.Time, rep *Report) error {
	r := w.engine.Settings().Reminder
	if !r.Enabled || r.DelayHours <= 0 {
		return nil
	}
	delay := time.Duration(r.DelayHours) * time.Hour
	floor := time.Duration(r.SafetyFloorHours) * time.Hour
	if floor <= delay {
		floor = defaultSafetyFloor
	}
	candidates, err := w.repo.FindEligibleForReminder(ctx, now, delay, floor, r.Limit)
	if err != nil {
		return fmt.Errorf("find reminder candidates: %w", err)
	}
	for i := range candidates {
		o := &candidates[i]
		if err := w.engine.SendReminder(ctx, o); err != nil {
			w.log.Warn("send reminder", "id", o.ID, "err", err)
			continue
		}
		rep.Reminders++
		rep.ReminderHashes = append(rep.ReminderHashes, o.Hash)
	}
	if rep.Reminders > 0 {
		w.events.Dispatch(ctx, &events.ReminderSent{Count: rep.Reminders, Hashes: rep.ReminderHashes})
	}
	return nil
}
