// Package schedule adds cron and event-driven triggers on top of an
// engine.Engine: a Config ties a workflow name to either a cron expression
// or an event type, and the Scheduler invokes engine.Run when either fires.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/flowengine/engine"
	"github.com/swarmguard/flowengine/internal/resilience"
)

// Config defines when and how a workflow run is triggered.
type Config struct {
	WorkflowName  string
	CronExpr      string // e.g. "0 */5 * * * *"; mutually exclusive with EventType
	EventType     string // e.g. "kafka.message", "webhook.received"
	EventFilter   map[string]any
	Enabled       bool
	MaxConcurrent int // 0 = unlimited
	Timeout       time.Duration
}

type eventHandler struct {
	schedules   []*Config
	running     int
	mu          sync.Mutex
	lastTrigger time.Time
}

// Scheduler owns a cron loop and an event-trigger table, both of which
// invoke Engine.Run when they fire. It admits triggered runs through a
// HybridRateLimiter so a runaway cron expression or event storm can't flood
// the engine.
type Scheduler struct {
	cron          *cron.Cron
	engine        *engine.Engine
	eventHandlers map[string]*eventHandler
	mu            sync.RWMutex
	admission     *resilience.HybridRateLimiter

	runs    metric.Int64Counter
	fails   metric.Int64Counter
	events  metric.Int64Counter
	tracer  trace.Tracer
}

// New returns a Scheduler driving eng, admitting up to burstCapacity
// triggered runs immediately from a token bucket refilled at refillRate
// tokens per second. Runs that find no token wait in a queue of up to 64
// entries, released one every 50ms; a run that finds the queue full is
// rejected.
func New(eng *engine.Engine, burstCapacity int, refillRate float64) *Scheduler {
	meter := otel.Meter("flowengine-scheduler")
	runs, _ := meter.Int64Counter("flowengine_schedule_runs_total")
	fails, _ := meter.Int64Counter("flowengine_schedule_failures_total")
	events, _ := meter.Int64Counter("flowengine_schedule_event_triggers_total")

	return &Scheduler{
		cron:          cron.New(cron.WithSeconds()),
		engine:        eng,
		eventHandlers: make(map[string]*eventHandler),
		admission:     resilience.NewHybridRateLimiter(burstCapacity, refillRate, 64, 50*time.Millisecond),
		runs:          runs,
		fails:         fails,
		events:        events,
		tracer:        otel.Tracer("flowengine-scheduler"),
	}
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started")
}

// Stop gracefully stops the cron loop and the rate limiter's workers.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	s.admission.Stop()

	select {
	case <-stopCtx.Done():
		slog.Info("scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.Warn("scheduler stop timed out")
		return ctx.Err()
	}
}

// AddSchedule registers cfg's trigger: a cron entry if CronExpr is set, or
// an event-type handler if EventType is set. Exactly one must be set.
func (s *Scheduler) AddSchedule(ctx context.Context, cfg *Config) error {
	_, span := s.tracer.Start(ctx, "scheduler.add_schedule",
		trace.WithAttributes(attribute.String("workflow", cfg.WorkflowName)))
	defer span.End()

	switch {
	case cfg.CronExpr != "":
		_, err := s.cron.AddFunc(cfg.CronExpr, func() {
			s.executeScheduled(context.Background(), cfg)
		})
		if err != nil {
			return fmt.Errorf("scheduler: add cron schedule: %w", err)
		}
		slog.Info("cron schedule added", "workflow", cfg.WorkflowName, "cron", cfg.CronExpr)

	case cfg.EventType != "":
		s.registerEventHandler(cfg)
		slog.Info("event trigger added", "workflow", cfg.WorkflowName, "event_type", cfg.EventType)

	default:
		return fmt.Errorf("scheduler: either CronExpr or EventType must be set")
	}

	return nil
}

func (s *Scheduler) registerEventHandler(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.eventHandlers[cfg.EventType]
	if !ok {
		h = &eventHandler{}
		s.eventHandlers[cfg.EventType] = h
	}
	h.schedules = append(h.schedules, cfg)
}

// TriggerEvent processes an incoming event, running every enabled schedule
// registered for eventType whose filter matches eventData.
func (s *Scheduler) TriggerEvent(ctx context.Context, eventType string, eventData map[string]any) {
	ctx, span := s.tracer.Start(ctx, "scheduler.trigger_event", trace.WithAttributes(attribute.String("event_type", eventType)))
	defer span.End()

	s.mu.RLock()
	handler, ok := s.eventHandlers[eventType]
	s.mu.RUnlock()
	if !ok {
		return
	}

	s.events.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))

	for _, cfg := range handler.schedules {
		if !cfg.Enabled || !matchesFilter(eventData, cfg.EventFilter) {
			continue
		}

		handler.mu.Lock()
		if cfg.MaxConcurrent > 0 && handler.running >= cfg.MaxConcurrent {
			handler.mu.Unlock()
			slog.Warn("max concurrent executions reached", "workflow", cfg.WorkflowName, "max", cfg.MaxConcurrent)
			continue
		}
		handler.running++
		handler.lastTrigger = time.Now()
		handler.mu.Unlock()

		go func(cfg *Config) {
			defer func() {
				handler.mu.Lock()
				handler.running--
				handler.mu.Unlock()
			}()
			runCtx := context.Background()
			if cfg.Timeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(runCtx, cfg.Timeout)
				defer cancel()
			}
			s.executeScheduled(runCtx, cfg)
		}(cfg)
	}
}

func (s *Scheduler) executeScheduled(ctx context.Context, cfg *Config) {
	ctx, span := s.tracer.Start(ctx, "scheduler.execute_workflow", trace.WithAttributes(attribute.String("workflow", cfg.WorkflowName)))
	defer span.End()

	if err := s.admission.AllowOrWait(ctx); err != nil {
		slog.Warn("triggered run rejected by admission limiter", "workflow", cfg.WorkflowName, "error", err)
		s.fails.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow", cfg.WorkflowName)))
		return
	}

	start := time.Now()
	_, err := s.engine.Run(ctx, cfg.WorkflowName, nil, "")
	if err != nil {
		slog.Error("scheduled workflow run failed", "workflow", cfg.WorkflowName, "error", err, "duration_ms", time.Since(start).Milliseconds())
		s.fails.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow", cfg.WorkflowName)))
		return
	}

	s.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow", cfg.WorkflowName)))
	slog.Info("scheduled workflow completed", "workflow", cfg.WorkflowName, "duration_ms", time.Since(start).Milliseconds())
}

func matchesFilter(eventData, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	for key, want := range filter {
		got, ok := eventData[key]
		if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}
