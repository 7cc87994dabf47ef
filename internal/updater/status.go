package updater

// Status is the update lifecycle status reported by the launcher.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusChecking       Status = "checking"
	StatusAvailable      Status = "available"
	StatusNotAvailable   Status = "not_available"
	StatusDownloading    Status = "downloading"
	StatusDownloaded     Status = "downloaded"
	StatusReadyToInstall Status = "ready_to_install"
	StatusError          Status = "error"
	// StatusUnknown stands for any status outside the set above; the raw
	// value is kept in State.RawStatus.
	StatusUnknown Status = "unknown"
)

var knownStatuses = map[Status]bool{
	StatusIdle:           true,
	StatusChecking:       true,
	StatusAvailable:      true,
	StatusNotAvailable:   true,
	StatusDownloading:    true,
	StatusDownloaded:     true,
	StatusReadyToInstall: true,
	StatusError:          true,
}

// ParseStatus maps a wire value onto Status.
func ParseStatus(raw string) Status {
	s := Status(raw)
	if knownStatuses[s] {
		return s
	}
	return StatusUnknown
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return knownStatuses[s]
}

// Terminal reports whether the lifecycle rests at s until the application
// acts again.
func (s Status) Terminal() bool {
	switch s {
	case StatusNotAvailable, StatusReadyToInstall, StatusError:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

var transitions = map[Status][]Status{
	StatusIdle:           {StatusChecking},
	StatusChecking:       {StatusAvailable, StatusNotAvailable},
	StatusAvailable:      {StatusDownloading, StatusChecking},
	StatusNotAvailable:   {StatusChecking, StatusIdle},
	StatusDownloading:    {StatusDownloading, StatusDownloaded},
	StatusDownloaded:     {StatusReadyToInstall},
	StatusReadyToInstall: {StatusIdle, StatusChecking},
	StatusError:          {StatusIdle, StatusChecking},
}

// ValidTransition reports whether the lifecycle documents a move from one
// status to another. Error is reachable from every non-terminal status.
// Transitions involving StatusUnknown are never judged invalid. Observers
// use this for diagnostics only.
func ValidTransition(from, to Status) bool {
	if from == StatusUnknown || to == StatusUnknown {
		return true
	}
	if !from.Valid() || !to.Valid() {
		return false
	}
	if to == StatusError {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
