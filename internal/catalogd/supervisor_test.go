package catalogd

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSupervisorReturnsModuleError(t *testing.T) {
	s := Supervisor{Logger: zap.NewNop()}
	boom := errors.New("boom")
	modules := []ModuleRunner{
		{Name: "ok", Run: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}},
		{Name: "bad", Run: func(ctx context.Context) error {
			return boom
		}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := s.Run(ctx, modules)
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("expected module error, got %v", err)
	}
}

func TestSupervisorStopsOnContextCancel(t *testing.T) {
	s := Supervisor{Logger: zap.NewNop()}
	modules := []ModuleRunner{
		{Name: "ok", Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, modules) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancelled run should return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestSupervisorRequiresModules(t *testing.T) {
	s := Supervisor{Logger: zap.NewNop()}
	if err := s.Run(context.Background(), nil); err == nil {
		t.Fatal("no modules should be an error")
	}
}
