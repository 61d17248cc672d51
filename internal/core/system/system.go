package system

import "time"

// Phase defines execution ordering within a single fixed simulation step.
type Phase int

const (
	PhaseInput      Phase = iota // 0: drain packet and debug command queues
	PhasePreUpdate               // 1: dispatch last step's events, clear collision, bot think
	PhaseUpdate                  // 2: avatar state machines + movement
	PhaseLateUpdate              // 3: combat resolution against this step's geometry
	PhasePostUpdate              // 4: snapshot capture + recording
	PhaseOutput                  // 5: build + send packets
	PhasePersist                 // 6: hit log flush
	PhaseCleanup                 // 7: release departed avatar slots

	phaseCount
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "Input"
	case PhasePreUpdate:
		return "PreUpdate"
	case PhaseUpdate:
		return "Update"
	case PhaseLateUpdate:
		return "LateUpdate"
	case PhasePostUpdate:
		return "PostUpdate"
	case PhaseOutput:
		return "Output"
	case PhasePersist:
		return "Persist"
	case PhaseCleanup:
		return "Cleanup"
	default:
		return "Unknown"
	}
}

// System is the interface every per-step system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
