package ride

// PresentationState is the lifecycle of an offer on the driver's side.
type PresentationState string

const (
	PresentationNone      PresentationState = "NONE"
	PresentationPresented PresentationState = "PRESENTED"
	PresentationAccepting PresentationState = "ACCEPTING"
	PresentationResolved  PresentationState = "RESOLVED"
)

// Active reports whether an offer currently occupies the driver's attention.
// At most one offer may be active at a time.
func (state PresentationState) Active() bool {
	return state == PresentationPresented || state == PresentationAccepting
}

func (state PresentationState) String() string { return string(state) }

// Resolution records how an active offer left the Presented/Accepting states.
type Resolution string

const (
	ResolutionAccepted               Resolution = "ACCEPTED"
	ResolutionDeclined               Resolution = "DECLINED"
	ResolutionCancelledByCounterpart Resolution = "CANCELLED_BY_COUNTERPART"
)

func (resolution Resolution) String() string { return string(resolution) }
