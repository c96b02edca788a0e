package query

import (
	"log/slog"
	"sync"

	lerrors "github.com/adalundhe/lattice/core/errors"
)

// FallbackState is the degradation state of the query path.
type FallbackState int

const (
	// StateNormalOperation serves from both stores.
	StateNormalOperation FallbackState = iota

	// StateGraphError marks a just-observed graph failure, before the
	// vector side has answered for it.
	StateGraphError

	// StateVectorFallback serves vector-only results while the graph
	// store is down.
	StateVectorFallback

	// StateVectorError marks a just-observed vector failure.
	StateVectorError

	// StateGraphFallback serves graph-only results while the vector
	// store is down.
	StateGraphFallback

	// StateFullFailure means neither store answered. Queries in this
	// state return an explicit error, never an empty success.
	StateFullFailure
)

var fallbackStateNames = map[FallbackState]string{
	StateNormalOperation: "normal_operation",
	StateGraphError:      "graph_error",
	StateVectorFallback:  "vector_fallback",
	StateVectorError:     "vector_error",
	StateGraphFallback:   "graph_fallback",
	StateFullFailure:     "full_failure",
}

func (s FallbackState) String() string {
	if name, ok := fallbackStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// PhaseOutcome is what one retrieval phase reported for a query.
type PhaseOutcome struct {
	Err error
	Ran bool
}

// Failed reports whether the phase ran and errored. A skipped phase
// (e.g. a plan with no graph spec) is not a failure.
func (o PhaseOutcome) Failed() bool {
	return o.Ran && o.Err != nil
}

// Resolution is the fallback handler's decision for one query.
type Resolution struct {
	State        FallbackState
	FallbackUsed bool

	// Err is non-nil only for full failure.
	Err error
}

// FallbackHandler tracks store health across queries and decides, per
// query, whether to degrade to a single store or fail outright.
type FallbackHandler struct {
	mu     sync.Mutex
	state  FallbackState
	logger *slog.Logger
}

// NewFallbackHandler creates a handler starting in normal operation.
func NewFallbackHandler(logger *slog.Logger) *FallbackHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackHandler{state: StateNormalOperation, logger: logger}
}

// State returns the current degradation state.
func (h *FallbackHandler) State() FallbackState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Resolve advances the state machine with this query's phase outcomes
// and returns the serving decision. Both phases healthy returns the
// machine to normal operation; one side failing enters the matching
// fallback state; both sides failing is a full failure surfaced as an
// error.
func (h *FallbackHandler) Resolve(graph, vector PhaseOutcome) Resolution {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.state

	switch {
	case graph.Failed() && vector.Failed():
		h.state = StateFullFailure
	case vector.Failed() && !graph.Ran:
		// No graph phase was planned, so there is nothing to fall
		// back to.
		h.state = StateFullFailure
	case graph.Failed():
		h.state = StateVectorFallback
	case vector.Failed():
		h.state = StateGraphFallback
	default:
		h.state = StateNormalOperation
	}

	if h.state != prev {
		h.logger.Warn("fallback state changed",
			"from", prev.String(),
			"to", h.state.String())
	}

	resolution := Resolution{
		State:        h.state,
		FallbackUsed: h.state == StateVectorFallback || h.state == StateGraphFallback,
	}

	if h.state == StateFullFailure {
		resolution.Err = buildFullFailure(graph.Err, vector.Err)
	}
	return resolution
}

func buildFullFailure(graphErr, vectorErr error) error {
	te := lerrors.NewTieredError(lerrors.TierDegrading, "all retrieval paths failed", lerrors.ErrFullFailure)
	if graphErr != nil {
		te.WithContext("graph_error", graphErr.Error())
	}
	if vectorErr != nil {
		te.WithContext("vector_error", vectorErr.Error())
	}
	return te
}
