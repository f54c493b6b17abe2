package lifecycle

// State is a bot's position in the lifecycle machine.
type State uint8

const (
	StateCreated State = iota
	StateLoggingIn
	StateActive
	StateIdle
	StateCombat
	StateQuesting
	StateFollowing
	StateResting
	StateLoggingOut
	StateOffline
	StateTerminated
	StateFailedRetirement
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLoggingIn:
		return "logging_in"
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateCombat:
		return "combat"
	case StateQuesting:
		return "questing"
	case StateFollowing:
		return "following"
	case StateResting:
		return "resting"
	case StateLoggingOut:
		return "logging_out"
	case StateOffline:
		return "offline"
	case StateTerminated:
		return "terminated"
	case StateFailedRetirement:
		return "failed_retirement"
	default:
		return "unknown"
	}
}

// Live reports whether the state still occupies the world.
func (s State) Live() bool {
	switch s {
	case StateOffline, StateTerminated, StateFailedRetirement:
		return false
	default:
		return true
	}
}

// activity states a bot can be assigned into from ACTIVE or IDLE.
var activityStates = map[State]bool{
	StateQuesting:  true,
	StateFollowing: true,
	StateResting:   true,
}

// validNext encodes the transition table. LOGGING_OUT is reachable from
// every live state and is handled separately in the controller.
var validNext = map[State]map[State]bool{
	StateCreated:   {StateLoggingIn: true},
	StateLoggingIn: {StateActive: true},
	StateActive: {
		StateIdle: true, StateCombat: true, StateQuesting: true,
		StateFollowing: true, StateResting: true,
	},
	StateIdle: {
		StateActive: true, StateCombat: true, StateQuesting: true,
		StateFollowing: true, StateResting: true,
	},
	StateCombat:     {StateActive: true},
	StateQuesting:   {StateActive: true, StateIdle: true, StateCombat: true},
	StateFollowing:  {StateActive: true, StateIdle: true, StateCombat: true},
	StateResting:    {StateActive: true, StateIdle: true, StateCombat: true},
	StateLoggingOut: {StateOffline: true, StateFailedRetirement: true},
	StateOffline:    {StateTerminated: true, StateFailedRetirement: true},
}

func transitionAllowed(from, to State) bool {
	if to == StateLoggingOut {
		return from.Live() && from != StateLoggingOut
	}
	return validNext[from][to]
}
