package node

// Phase is the step of the leaf tick currently executing.
type Phase int32

const (
	// PhaseIdle is the state between ticks.
	PhaseIdle Phase = iota
	// PhaseSense reads the clock, capacitor, temperature and chaos seed.
	PhaseSense
	// PhaseClassify runs only on a vibration wake.
	PhaseClassify
	PhaseBuildOwnFrame
	PhaseScore
	// PhaseRelayEmit transmits the pending relay frame before our own.
	PhaseRelayEmit
	PhaseOwnEmit
	// PhaseListenWindow runs only when the capacitor is above threshold.
	PhaseListenWindow
	PhasePersist
	PhaseSleep
	// PhaseBrownout is entered from any phase on a low-voltage interrupt.
	PhaseBrownout
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSense:
		return "sense"
	case PhaseClassify:
		return "classify"
	case PhaseBuildOwnFrame:
		return "build-own-frame"
	case PhaseScore:
		return "score"
	case PhaseRelayEmit:
		return "relay-emit"
	case PhaseOwnEmit:
		return "own-emit"
	case PhaseListenWindow:
		return "listen-window"
	case PhasePersist:
		return "persist"
	case PhaseSleep:
		return "sleep"
	case PhaseBrownout:
		return "brownout"
	default:
		return "unknown"
	}
}
