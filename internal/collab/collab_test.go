package collab

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var fastPolicy = Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain", stderrors.New("boom"), KindTransient},
		{"invalid", Invalid("classify", stderrors.New("bad json")), KindInvalid},
		{"wrapped permanent", fmt.Errorf("call: %w", Permanent("generate", stderrors.New("401"))), KindPermanent},
		{"canceled", context.Canceled, KindPermanent},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), KindPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRetry_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastPolicy, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", Transient("classify", stderrors.New("503"))
		}
		return "go-dev", nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if got != "go-dev" || calls != 3 {
		t.Errorf("Retry() = %q after %d calls", got, calls)
	}
}

func TestRetry_StopsOnPermanent(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy, func(context.Context) (int, error) {
		calls++
		return 0, Permanent("extract", stderrors.New("bad key"))
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if KindOf(err) != KindPermanent {
		t.Errorf("err = %v, want permanent", err)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy, func(context.Context) (int, error) {
		calls++
		return 0, Invalid("extract", stderrors.New("not json"))
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	var f *Failure
	if !stderrors.As(err, &f) || f.Kind != KindInvalid {
		t.Errorf("err = %v, want wrapped invalid failure", err)
	}
}

func TestRetry_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := Policy{Attempts: 5, BaseDelay: time.Hour}

	calls := 0
	_, err := Retry(ctx, slow, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, Transient("classify", stderrors.New("timeout"))
	})
	if !stderrors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPolicyBackOff(t *testing.T) {
	tests := []struct {
		name string
		p    Policy
		want []time.Duration
	}{
		{"capped", Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond},
			[]time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}},
		{"uncapped", Policy{BaseDelay: time.Second},
			[]time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.p.backOff()
			for i, w := range tt.want {
				if got := b.NextBackOff(); got != w {
					t.Errorf("wait %d = %v, want %v", i+1, got, w)
				}
			}
		})
	}
}

func TestRetry_SingleAttempt(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), Policy{}, func(context.Context) (int, error) {
		calls++
		return 0, Transient("classify", stderrors.New("503"))
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if err == nil || err.Error() != "after 1 attempts: classify (transient): 503" {
		t.Errorf("err = %v", err)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(2)
	var inFlight, peak int32
	var mu sync.Mutex

	errs, err := p.Run(context.Background(), 10, func(context.Context, int) error {
		n := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(errs) != 10 {
		t.Fatalf("len(errs) = %d", len(errs))
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestPool_FailureDoesNotCancelSiblings(t *testing.T) {
	p := NewPool(3)
	var done int32
	errs, err := p.Run(context.Background(), 6, func(_ context.Context, i int) error {
		if i == 0 {
			return stderrors.New("item 0 failed")
		}
		atomic.AddInt32(&done, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if errs[0] == nil {
		t.Error("errs[0] = nil, want failure")
	}
	if done != 5 {
		t.Errorf("completed siblings = %d, want 5", done)
	}
}

func TestPool_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := NewPool(2).Run(ctx, 3, func(context.Context, int) error {
		called = true
		return nil
	})
	if !stderrors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if called {
		t.Error("fn called after cancellation")
	}
}
