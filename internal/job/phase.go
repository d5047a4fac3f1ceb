// Package job holds the lifecycle vocabulary shared by the orchestrator,
// its sinks and the relay: phases, progress snapshots, completion results
// and the orchestrator state value.
package job

// Handle is the server-assigned identifier (video_id) for a submitted job.
type Handle string

// Phase is the coarse lifecycle stage reported by the progress endpoint.
type Phase string

const (
	PhaseExtracting     Phase = "extracting"
	PhaseDownloading    Phase = "downloading"
	PhasePostprocessing Phase = "postprocessing"
	PhaseCompleted      Phase = "completed"
	PhaseError          Phase = "error"
	PhaseUnknown        Phase = "unknown"
)

// ParsePhase maps a raw status tag onto a Phase. Anything the server
// introduces later falls through to PhaseUnknown.
func ParsePhase(s string) Phase {
	switch Phase(s) {
	case PhaseExtracting:
		return PhaseExtracting
	case PhaseDownloading:
		return PhaseDownloading
	case PhasePostprocessing:
		return PhasePostprocessing
	case PhaseCompleted:
		return PhaseCompleted
	case PhaseError:
		return PhaseError
	default:
		return PhaseUnknown
	}
}

// Terminal reports whether the Poller stops on this phase.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError
}

func (p Phase) String() string {
	return string(p)
}
