package llm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"apriori/internal/logging"
)

// =============================================================================
// CALL SCHEDULER - GLOBAL IN-FLIGHT LLM CALL LIMIT
// =============================================================================
//
// A run simulates thousands of persona/stimulus pairs concurrently, but the
// provider tolerates only a handful of simultaneous requests. The scheduler
// is a slot semaphore shared by every worker in a run: a worker acquires a
// slot, makes exactly one LLM call, and releases the slot. Workers do local
// processing (parsing, validation) without holding a slot.

// SchedulerConfig configures the call scheduler.
type SchedulerConfig struct {
	MaxConcurrentCalls int           // matches the provider's concurrency limit
	AcquireTimeout     time.Duration // max time a worker waits for a slot
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrentCalls: 5,
		AcquireTimeout:     5 * time.Minute,
	}
}

// Scheduler limits concurrent LLM calls across all workers in a run.
type Scheduler struct {
	config SchedulerConfig
	slots  chan struct{}

	// Metrics
	totalCalls       int64
	totalWaitTime    int64 // nanoseconds
	currentlyWaiting int32
	currentlyActive  int32

	stopCh chan struct{}
}

// NewScheduler creates a scheduler with the given limits.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.MaxConcurrentCalls <= 0 {
		config.MaxConcurrentCalls = 5
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = 5 * time.Minute
	}
	return &Scheduler{
		config: config,
		slots:  make(chan struct{}, config.MaxConcurrentCalls),
		stopCh: make(chan struct{}),
	}
}

// Acquire blocks until a call slot is available or the context is done.
func (s *Scheduler) Acquire(ctx context.Context) error {
	waitStart := time.Now()

	atomic.AddInt32(&s.currentlyWaiting, 1)
	defer atomic.AddInt32(&s.currentlyWaiting, -1)

	if len(s.slots) >= s.config.MaxConcurrentCalls {
		logging.APIDebug("Scheduler: waiting for slot (active=%d/%d, waiting=%d)",
			len(s.slots), s.config.MaxConcurrentCalls, atomic.LoadInt32(&s.currentlyWaiting))
	}

	timer := time.NewTimer(s.config.AcquireTimeout)
	defer timer.Stop()

	select {
	case s.slots <- struct{}{}:
		waited := time.Since(waitStart)
		atomic.AddInt64(&s.totalWaitTime, int64(waited))
		atomic.AddInt32(&s.currentlyActive, 1)
		if waited > 100*time.Millisecond {
			logging.APIDebug("Scheduler: acquired slot after %v", waited)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out waiting for call slot after %v", s.config.AcquireTimeout)
	case <-s.stopCh:
		return fmt.Errorf("scheduler stopped")
	}
}

// Release returns a call slot after the call completes.
func (s *Scheduler) Release() {
	select {
	case <-s.slots:
	default:
		logging.APIError("Scheduler: release without a held slot")
		return
	}
	atomic.AddInt32(&s.currentlyActive, -1)
	atomic.AddInt64(&s.totalCalls, 1)
}

// Stop shuts down the scheduler; blocked acquirers fail.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// Metrics returns a snapshot of scheduler state.
func (s *Scheduler) Metrics() SchedulerMetrics {
	return SchedulerMetrics{
		MaxSlots:        s.config.MaxConcurrentCalls,
		ActiveSlots:     int(atomic.LoadInt32(&s.currentlyActive)),
		WaitingForSlot:  int(atomic.LoadInt32(&s.currentlyWaiting)),
		TotalCalls:      atomic.LoadInt64(&s.totalCalls),
		TotalWaitTimeNs: atomic.LoadInt64(&s.totalWaitTime),
	}
}

// SchedulerMetrics provides observability into scheduler state.
type SchedulerMetrics struct {
	MaxSlots        int
	ActiveSlots     int
	WaitingForSlot  int
	TotalCalls      int64
	TotalWaitTimeNs int64
}

// String returns a human-readable summary.
func (m SchedulerMetrics) String() string {
	avgWait := time.Duration(0)
	if m.TotalCalls > 0 {
		avgWait = time.Duration(m.TotalWaitTimeNs / m.TotalCalls)
	}
	return fmt.Sprintf("slots=%d/%d, waiting=%d, calls=%d, avg_wait=%v",
		m.ActiveSlots, m.MaxSlots, m.WaitingForSlot, m.TotalCalls, avgWait)
}

// -----------------------------------------------------------------------------
// Scheduled Client Wrapper
// -----------------------------------------------------------------------------

// ScheduledClient wraps a Client with slot acquisition and transient-error
// retries. It implements Client so it can be injected transparently.
type ScheduledClient struct {
	Scheduler  *Scheduler
	Client     Client
	MaxRetries int
}

var _ Client = (*ScheduledClient)(nil)

// NewScheduledClient wraps client so every call goes through the scheduler.
func NewScheduledClient(scheduler *Scheduler, client Client, maxRetries int) *ScheduledClient {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &ScheduledClient{
		Scheduler:  scheduler,
		Client:     client,
		MaxRetries: maxRetries,
	}
}

// Complete makes a scheduled call with a bare prompt.
func (c *ScheduledClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.callWithRetry(ctx, func(ctx context.Context) (string, error) {
		return c.Client.Complete(ctx, prompt)
	})
}

// CompleteWithSystem makes a scheduled call with a system prompt.
func (c *ScheduledClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.callWithRetry(ctx, func(ctx context.Context) (string, error) {
		return c.Client.CompleteWithSystem(ctx, systemPrompt, userPrompt)
	})
}

// CompleteWithSchema makes a scheduled schema-enforced call.
func (c *ScheduledClient) CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt, jsonSchema string) (string, error) {
	return c.callWithRetry(ctx, func(ctx context.Context) (string, error) {
		return c.Client.CompleteWithSchema(ctx, systemPrompt, userPrompt, jsonSchema)
	})
}

// SchemaCapable defers to the wrapped client.
func (c *ScheduledClient) SchemaCapable() bool {
	return c.Client.SchemaCapable()
}

func (c *ScheduledClient) callWithRetry(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if err := c.Scheduler.Acquire(ctx); err != nil {
			return "", fmt.Errorf("failed to acquire call slot (attempt %d): %w", attempt+1, err)
		}

		result, err := call(ctx)

		// Slot is released before any backoff sleep so other workers proceed
		c.Scheduler.Release()

		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return "", err
		}

		if attempt < c.MaxRetries {
			backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
			if backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
				logging.APIDebug("ScheduledClient: retrying after error (attempt %d/%d): %v",
					attempt+1, c.MaxRetries, err)
			}
		}
	}

	return "", fmt.Errorf("all %d attempts failed, last error: %w", c.MaxRetries+1, lastErr)
}
