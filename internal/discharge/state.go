package discharge

// State is a step of the discharge test sequence.
type State int

const (
	StateInit State = iota
	StateAwaitSafety
	StateRelayActivate
	StateSample
	StateLogData
	StateCheckExit
	StateRelayDeactivate
	StateFinalize
	StateDone
	StateEmergency
)

var stateNames = [...]string{
	StateInit:            "INIT",
	StateAwaitSafety:     "AWAIT_SAFETY",
	StateRelayActivate:   "RELAY_ACTIVATE",
	StateSample:          "SAMPLE",
	StateLogData:         "LOG_DATA",
	StateCheckExit:       "CHECK_EXIT",
	StateRelayDeactivate: "RELAY_DEACTIVATE",
	StateFinalize:        "FINALIZE",
	StateDone:            "DONE",
	StateEmergency:       "EMERGENCY",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateEmergency
}
