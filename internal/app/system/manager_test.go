package system

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type recordingService struct {
	name     string
	log      *[]string
	startErr error
	stopErr  error
}

func (r recordingService) Name() string { return r.name }

func (r recordingService) Start(context.Context) error {
	*r.log = append(*r.log, "start "+r.name)
	return r.startErr
}

func (r recordingService) Stop(context.Context) error {
	*r.log = append(*r.log, "stop "+r.name)
	return r.stopErr
}

func TestManagerOrdering(t *testing.T) {
	var calls []string
	m := NewManager(nil)
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(recordingService{name: name, log: &calls}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Fatalf("lifecycle order mismatch (-want +got):\n%s", diff)
	}
}

func TestManagerRejectsDuplicatesAndLateRegistration(t *testing.T) {
	m := NewManager(nil)
	if err := m.Register(NoopService{ServiceName: "x"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(NoopService{ServiceName: "x"}); err == nil {
		t.Fatalf("expected duplicate name to be rejected")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Register(NoopService{ServiceName: "y"}); err == nil {
		t.Fatalf("expected registration after start to fail")
	}
	if diff := cmp.Diff([]string{"x"}, m.Services()); diff != "" {
		t.Fatalf("services mismatch (-want +got):\n%s", diff)
	}
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	m := NewManager(nil)
	_ = m.Register(recordingService{name: "a", log: &calls})
	_ = m.Register(recordingService{name: "b", log: &calls, startErr: boom})
	_ = m.Register(recordingService{name: "c", log: &calls})

	err := m.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected start error, got %v", err)
	}
	want := []string{"start a", "start b", "stop a"}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Fatalf("rollback mismatch (-want +got):\n%s", diff)
	}
}

func TestManagerStopCollectsErrors(t *testing.T) {
	var calls []string
	m := NewManager(nil)
	_ = m.Register(recordingService{name: "a", log: &calls, stopErr: errors.New("a failed")})
	_ = m.Register(recordingService{name: "b", log: &calls})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background()); err == nil {
		t.Fatalf("expected stop error")
	}
	if calls[len(calls)-1] != "stop a" {
		t.Fatalf("expected every service to be stopped, got %v", calls)
	}
}
