package session

// State is a step of a download session
type State int

const (
	StateInit State = iota
	StateAuthenticating
	StateListingCourses
	StateAwaitingSelection
	StateEnumeratingActivities
	StateDownloadingLoop
	StateDone
	StateAborted
)

var stateNames = map[State]string{
	StateInit:                  "init",
	StateAuthenticating:        "authenticating",
	StateListingCourses:        "listing-courses",
	StateAwaitingSelection:     "awaiting-selection",
	StateEnumeratingActivities: "enumerating-activities",
	StateDownloadingLoop:       "downloading",
	StateDone:                  "done",
	StateAborted:               "aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}
