package session

import (
	"testing"
	"time"

	"github.com/voiceplate/voiceplate/pkg/asr/mock"
)

func TestRegistryOneSessionPerCaller(t *testing.T) {
	ctrl := mock.NewController()
	reg := NewRegistry(testConfig(), ctrl.Factory)
	defer reg.CloseAll()

	sink := &captureSink{}
	first := reg.GetOrCreate("caller-a", sink)
	second := reg.GetOrCreate("caller-a", sink)
	if first != second {
		t.Fatalf("expected the same session for one caller")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected one session, got %d", reg.Len())
	}

	other := reg.GetOrCreate("caller-b", sink)
	if other == first {
		t.Fatalf("expected distinct sessions per caller")
	}
	if reg.Len() != 2 {
		t.Fatalf("expected two sessions, got %d", reg.Len())
	}
}

func TestRegistryLazyConstruction(t *testing.T) {
	ctrl := mock.NewController()
	reg := NewRegistry(testConfig(), ctrl.Factory)
	defer reg.CloseAll()

	sess := reg.GetOrCreate("caller-a", &captureSink{})
	if sess.State() != StateIdle {
		t.Fatalf("expected idle session before first open, got %s", sess.State())
	}
	if ctrl.Starts() != 0 {
		t.Fatalf("expected no backend connection before open")
	}
}

func TestRegistryReplacesDeadSession(t *testing.T) {
	ctrl := mock.NewController()
	reg := NewRegistry(testConfig(), ctrl.Factory)
	defer reg.CloseAll()

	sink := &captureSink{}
	first := reg.GetOrCreate("caller-a", sink)
	first.Close()

	second := reg.GetOrCreate("caller-a", sink)
	if second == first {
		t.Fatalf("expected a fresh session after close")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected single live session, got %d", reg.Len())
	}
}

func TestRegistryRemoveClosesSession(t *testing.T) {
	ctrl := mock.NewController()
	reg := NewRegistry(testConfig(), ctrl.Factory)

	sess := reg.GetOrCreate("caller-a", &captureSink{})
	if err := sess.Open(); err != nil {
		t.Fatalf("open error: %v", err)
	}
	waitFor(t, "session open", func() bool { return sess.State() == StateOpen })

	reg.Remove("caller-a")
	if sess.State() != StateClosed {
		t.Fatalf("expected removed session closed, got %s", sess.State())
	}
	if _, ok := reg.Get("caller-a"); ok {
		t.Fatalf("expected session gone from registry")
	}
}

func TestRegistryCloseAll(t *testing.T) {
	ctrl := mock.NewController()
	reg := NewRegistry(testConfig(), ctrl.Factory)

	a := reg.GetOrCreate("caller-a", &captureSink{})
	b := reg.GetOrCreate("caller-b", &captureSink{})
	reg.CloseAll()

	time.Sleep(5 * time.Millisecond)
	if a.State() != StateClosed || b.State() != StateClosed {
		t.Fatalf("expected all sessions closed")
	}
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry")
	}
}
