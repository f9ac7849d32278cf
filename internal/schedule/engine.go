// Package schedule maintains cron-bound triggers and submits tasks when
// they fire. The engine never executes tasks itself; it only submits them,
// so the tick loop never blocks on task duration. Correctness across
// restarts comes from the persisted next_execution_at, not in-memory timers.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vibesurf-ai/VibeSurf-sub003/internal/models"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/store"
)

// Sentinel errors for schedule operations.
var (
	ErrInvalidCron      = errors.New("invalid cron expression")
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrDuplicateFlow    = errors.New("schedule already exists for flow")
	ErrValidation       = errors.New("invalid schedule")
)

// DefaultTickInterval is how often due schedules are evaluated. The
// interval is a tunable, not a correctness requirement.
const DefaultTickInterval = 30 * time.Second

// cronParser accepts the standard five-field grammar plus an optional
// leading seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// NextAfter returns the earliest fire time of expr strictly after t.
func NextAfter(expr string, t time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	return sched.Next(t), nil
}

// Submitter submits a task for execution. Implemented by the lifecycle
// manager.
type Submitter interface {
	Submit(sessionID, description, profileRef string, metadata map[string]string) (*models.Task, error)
}

// Engine is the periodic schedule evaluator. Construct one per process;
// there is no ambient global instance.
type Engine struct {
	store     *store.Store
	submitter Submitter
	interval  time.Duration
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a schedule engine. interval <= 0 selects DefaultTickInterval.
func New(s *store.Store, sub Submitter, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:     s,
		submitter: sub,
		interval:  interval,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start recomputes next fire times from persisted state and begins the
// tick loop.
func (e *Engine) Start() {
	e.recoverNextTimes()
	e.wg.Add(1)
	go e.loop()
	log.Println("Schedule engine started")
}

// Stop gracefully stops the tick loop.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
	log.Println("Schedule engine stopped")
}

func (e *Engine) loop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.tick(e.now())
		}
	}
}

// recoverNextTimes recomputes next_execution_at for every enabled schedule
// from its cron expression, discarding whatever a previous process had
// persisted mid-flight.
func (e *Engine) recoverNextTimes() {
	schedules, err := e.store.ListSchedules(true)
	if err != nil {
		log.Printf("Schedule recovery: %v", err)
		return
	}
	now := e.now()
	for i := range schedules {
		sched := &schedules[i]
		next, err := NextAfter(sched.CronExpression, now)
		if err != nil {
			log.Printf("Schedule %s (%s): %v", sched.ID, sched.FlowRef, err)
			continue
		}
		if err := e.store.UpdateScheduleNext(sched.ID, &next); err != nil {
			log.Printf("Schedule %s: update next: %v", sched.ID, err)
		}
	}
}

// tick evaluates every due schedule exactly once. Each elapsed fire time
// produces at most one submission; a missed fire advances the schedule to
// its next future slot rather than firing twice to catch up.
func (e *Engine) tick(now time.Time) {
	due, err := e.store.DueSchedules(now)
	if err != nil {
		log.Printf("Schedule tick: %v", err)
		return
	}

	for i := range due {
		sched := &due[i]

		next, err := NextAfter(sched.CronExpression, now)
		if err != nil {
			// Expressions are validated at creation; a row that fails to
			// parse now is operator-visible via last_error.
			log.Printf("Schedule %s (%s): %v", sched.ID, sched.FlowRef, err)
			if serr := e.store.MarkScheduleSkipped(sched.ID, now.Add(e.interval), err.Error()); serr != nil {
				log.Printf("Schedule %s: record skip: %v", sched.ID, serr)
			}
			continue
		}

		open, err := e.store.HasOpenTaskForSession(sched.FlowRef)
		if err != nil {
			log.Printf("Schedule %s (%s): %v", sched.ID, sched.FlowRef, err)
			continue
		}
		if open {
			cause := "missed fire: prior run still active"
			log.Printf("Schedule %s (%s): %s", sched.ID, sched.FlowRef, cause)
			if serr := e.store.MarkScheduleSkipped(sched.ID, next, cause); serr != nil {
				log.Printf("Schedule %s: record skip: %v", sched.ID, serr)
			}
			continue
		}

		_, err = e.submitter.Submit(sched.FlowRef, sched.FlowRef, "", map[string]string{
			"trigger":     "schedule",
			"schedule_id": sched.ID,
		})
		if err != nil {
			// Skipped, logged, never auto-disabled; operators disable
			// explicitly.
			log.Printf("Schedule %s (%s): submission failed: %v", sched.ID, sched.FlowRef, err)
			if serr := e.store.MarkScheduleSkipped(sched.ID, next, err.Error()); serr != nil {
				log.Printf("Schedule %s: record skip: %v", sched.ID, serr)
			}
			continue
		}

		if err := e.store.MarkScheduleFired(sched.ID, now, next); err != nil {
			log.Printf("Schedule %s: record fire: %v", sched.ID, err)
		}
	}
}

// Create validates and persists a new enabled schedule for a flow.
func (e *Engine) Create(flowRef, cronExpr string) (*models.Schedule, error) {
	if strings.TrimSpace(flowRef) == "" {
		return nil, fmt.Errorf("%w: flow reference is required", ErrValidation)
	}

	next, err := NextAfter(cronExpr, e.now())
	if err != nil {
		return nil, err
	}

	sched, err := e.store.CreateSchedule(flowRef, cronExpr, true, &next)
	if errors.Is(err, store.ErrDuplicateFlow) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateFlow, flowRef)
	}
	return sched, err
}

// Get returns a schedule by ID.
func (e *Engine) Get(id string) (*models.Schedule, error) {
	sched, err := e.store.GetSchedule(id)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, ErrScheduleNotFound
	}
	return sched, nil
}

// List returns all schedules.
func (e *Engine) List() ([]models.Schedule, error) {
	return e.store.ListSchedules(false)
}

// Enable turns a schedule back on, recomputing the next fire time from now
// rather than from the stale last execution.
func (e *Engine) Enable(id string) (*models.Schedule, error) {
	sched, err := e.Get(id)
	if err != nil {
		return nil, err
	}

	next, err := NextAfter(sched.CronExpression, e.now())
	if err != nil {
		return nil, err
	}
	if err := e.store.SetScheduleEnabled(id, true, &next); err != nil {
		return nil, err
	}
	return e.Get(id)
}

// Disable turns a schedule off and clears its next fire time.
func (e *Engine) Disable(id string) (*models.Schedule, error) {
	if _, err := e.Get(id); err != nil {
		return nil, err
	}
	if err := e.store.SetScheduleEnabled(id, false, nil); err != nil {
		return nil, err
	}
	return e.Get(id)
}

// Delete removes a schedule.
func (e *Engine) Delete(id string) error {
	if _, err := e.Get(id); err != nil {
		return err
	}
	return e.store.DeleteSchedule(id)
}
