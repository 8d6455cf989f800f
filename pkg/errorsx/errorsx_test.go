package errorsx

import "testing"

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonASRConnect)
	if Reason(err) != ReasonASRConnect {
		t.Fatalf("expected reason %s, got %s", ReasonASRConnect, Reason(err))
	}
	if !HasReason(err, ReasonASRConnect) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonASRSend)
	second := Wrap(first, ReasonSessionFailed)
	if Reason(second) != ReasonASRSend {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestReasonOnNil(t *testing.T) {
	if Wrap(nil, ReasonASRSend) != nil {
		t.Fatalf("expected nil wrap to stay nil")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("expected unknown reason for nil error")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
