package query

import (
	"errors"
	"fmt"
	"testing"

	lerrors "github.com/adalundhe/lattice/core/errors"
)

func TestFallbackNormalOperation(t *testing.T) {
	handler := NewFallbackHandler(nil)

	resolution := handler.Resolve(PhaseOutcome{Ran: true}, PhaseOutcome{Ran: true})
	if resolution.State != StateNormalOperation {
		t.Errorf("state = %s, want normal_operation", resolution.State)
	}
	if resolution.FallbackUsed {
		t.Error("FallbackUsed = true with both phases healthy")
	}
	if resolution.Err != nil {
		t.Errorf("Err = %v, want nil", resolution.Err)
	}
}

func TestFallbackGraphFailureServesVector(t *testing.T) {
	handler := NewFallbackHandler(nil)

	resolution := handler.Resolve(
		PhaseOutcome{Ran: true, Err: fmt.Errorf("graph down")},
		PhaseOutcome{Ran: true},
	)
	if resolution.State != StateVectorFallback {
		t.Errorf("state = %s, want vector_fallback", resolution.State)
	}
	if !resolution.FallbackUsed {
		t.Error("FallbackUsed = false on degraded response")
	}
	if resolution.Err != nil {
		t.Errorf("Err = %v, want nil (vector side still serves)", resolution.Err)
	}
}

func TestFallbackVectorFailureServesGraph(t *testing.T) {
	handler := NewFallbackHandler(nil)

	resolution := handler.Resolve(
		PhaseOutcome{Ran: true},
		PhaseOutcome{Ran: true, Err: fmt.Errorf("vector down")},
	)
	if resolution.State != StateGraphFallback {
		t.Errorf("state = %s, want graph_fallback", resolution.State)
	}
	if !resolution.FallbackUsed {
		t.Error("FallbackUsed = false on degraded response")
	}
}

func TestFallbackFullFailureIsExplicit(t *testing.T) {
	handler := NewFallbackHandler(nil)

	resolution := handler.Resolve(
		PhaseOutcome{Ran: true, Err: fmt.Errorf("graph down")},
		PhaseOutcome{Ran: true, Err: fmt.Errorf("vector down")},
	)
	if resolution.State != StateFullFailure {
		t.Errorf("state = %s, want full_failure", resolution.State)
	}
	if resolution.Err == nil {
		t.Fatal("full failure must surface an error, never an empty success")
	}
	if !errors.Is(resolution.Err, lerrors.ErrFullFailure) {
		t.Errorf("Err = %v, want ErrFullFailure", resolution.Err)
	}
}

func TestFallbackVectorFailureWithoutGraphPhase(t *testing.T) {
	handler := NewFallbackHandler(nil)

	// The plan had no graph phase, so a vector failure leaves nothing
	// to serve from.
	resolution := handler.Resolve(
		PhaseOutcome{Ran: false},
		PhaseOutcome{Ran: true, Err: fmt.Errorf("vector down")},
	)
	if resolution.State != StateFullFailure {
		t.Errorf("state = %s, want full_failure", resolution.State)
	}
	if resolution.Err == nil {
		t.Error("expected an explicit error")
	}
}

func TestFallbackRecoversToNormal(t *testing.T) {
	handler := NewFallbackHandler(nil)

	handler.Resolve(PhaseOutcome{Ran: true, Err: fmt.Errorf("graph down")}, PhaseOutcome{Ran: true})
	if handler.State() != StateVectorFallback {
		t.Fatalf("state = %s, want vector_fallback", handler.State())
	}

	handler.Resolve(PhaseOutcome{Ran: true}, PhaseOutcome{Ran: true})
	if handler.State() != StateNormalOperation {
		t.Errorf("state = %s, want normal_operation after recovery", handler.State())
	}
}
