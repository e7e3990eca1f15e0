package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestSchedulerLimitsConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewScheduler(SchedulerConfig{MaxConcurrentCalls: 3, AcquireTimeout: time.Second})
	defer s.Stop()

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			s.Release()
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", got)
	}
	if m := s.Metrics(); m.TotalCalls != 20 {
		t.Errorf("TotalCalls = %d, want 20", m.TotalCalls)
	}
}

func TestSchedulerAcquireCanceled(t *testing.T) {
	s := NewScheduler(SchedulerConfig{MaxConcurrentCalls: 1, AcquireTimeout: time.Minute})
	defer s.Stop()

	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer s.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestSchedulerAcquireTimeout(t *testing.T) {
	s := NewScheduler(SchedulerConfig{MaxConcurrentCalls: 1, AcquireTimeout: 20 * time.Millisecond})
	defer s.Stop()

	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer s.Release()

	if err := s.Acquire(context.Background()); err == nil {
		t.Error("expected timeout error for second Acquire")
	}
}

// fakeClient scripts a sequence of results for retry tests.
type fakeClient struct {
	mu      sync.Mutex
	results []fakeResult
	calls   int
}

type fakeResult struct {
	text string
	err  error
}

func (f *fakeClient) next() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return "", errors.New("script exhausted")
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r.text, r.err
}

func (f *fakeClient) Complete(ctx context.Context, prompt string) (string, error) {
	return f.next()
}

func (f *fakeClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.next()
}

func (f *fakeClient) CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt, jsonSchema string) (string, error) {
	return f.next()
}

func (f *fakeClient) SchemaCapable() bool { return true }

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestScheduledClientRetriesTransient(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	defer s.Stop()

	fake := &fakeClient{results: []fakeResult{
		{err: errors.New("rate limit exceeded (429)")},
		{text: "recovered"},
	}}
	sc := NewScheduledClient(s, fake, 3)

	got, err := sc.Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "recovered" {
		t.Errorf("response = %q", got)
	}
	if fake.callCount() != 2 {
		t.Errorf("calls = %d, want 2", fake.callCount())
	}
}

func TestScheduledClientNoRetryOnPermanent(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	defer s.Stop()

	fake := &fakeClient{results: []fakeResult{
		{err: ErrSchemaNotSupported},
	}}
	sc := NewScheduledClient(s, fake, 3)

	_, err := sc.CompleteWithSchema(context.Background(), "", "hi", `{"type":"object"}`)
	if !errors.Is(err, ErrSchemaNotSupported) {
		t.Errorf("err = %v, want ErrSchemaNotSupported", err)
	}
	if fake.callCount() != 1 {
		t.Errorf("calls = %d, want 1", fake.callCount())
	}
}

func TestScheduledClientReleasesSlotOnError(t *testing.T) {
	s := NewScheduler(SchedulerConfig{MaxConcurrentCalls: 1, AcquireTimeout: time.Second})
	defer s.Stop()

	fake := &fakeClient{results: []fakeResult{{err: errors.New("request failed: boom")}}}
	sc := NewScheduledClient(s, fake, 1)
	if _, err := sc.Complete(context.Background(), "hi"); err == nil {
		t.Fatal("expected error")
	}

	// Slot must be free afterwards
	if err := s.Acquire(context.Background()); err != nil {
		t.Errorf("slot not released: %v", err)
	}
	s.Release()
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrSchemaNotSupported, false},
		{ErrMalformedResponse, true},
		{context.DeadlineExceeded, true},
		{errors.New("rate limit exceeded (429)"), true},
		{errors.New("server error (503): overloaded"), true},
		{errors.New("API request failed with status 403"), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("IsTransient(%v) = %t, want %t", tc.err, got, tc.want)
		}
	}
}
