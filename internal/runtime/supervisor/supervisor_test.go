package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "hourkeep/pkg/logx"
)

func TestGoRecordsFirstError(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))
	boom := errors.New("boom")

	s.Go("failing", func(ctx context.Context) error { return boom })
	if err := s.Wait(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Wait = %v, want boom", err)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))
	s.Go("panicking", func(ctx context.Context) error { panic("oops") })

	err := s.Wait(context.Background())
	if err == nil {
		t.Fatal("expected panic to surface as error")
	}
}

func TestCancelOnError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("failing", func(ctx context.Context) error { return errors.New("x") })

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled after error")
	}
}

func TestGoRestartStopsOnCancel(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32

	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) >= 2 {
			s.Cancel()
			return nil
		}
		return errors.New("transient")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait: %v", err)
	}
	if runs.Load() < 2 {
		t.Fatalf("runs = %d, want restart", runs.Load())
	}
}

func TestWaitTimesOut(t *testing.T) {
	s := New(context.Background())
	s.Go("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want deadline", err)
	}
	s.Cancel()
	_ = s.Wait(context.Background())
}
