package coordinator

import "time"

// Status is a Session's position in its lifecycle.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Session is one supervised unit, keyed by a caller-assigned positive
// integer identifier.
type Session struct {
	ID         int
	Pid        int
	Pgid       int
	Command    string
	WorkingDir string
	Port       *int
	CreatedAt  time.Time
	Status     Status
	ServerURL  *string
	ExitCode   *int
	ErrorMsg   *string
}

func (s Session) clone() Session {
	out := s
	if s.Port != nil {
		p := *s.Port
		out.Port = &p
	}
	if s.ServerURL != nil {
		u := *s.ServerURL
		out.ServerURL = &u
	}
	if s.ExitCode != nil {
		c := *s.ExitCode
		out.ExitCode = &c
	}
	if s.ErrorMsg != nil {
		m := *s.ErrorMsg
		out.ErrorMsg = &m
	}
	return out
}

// Snapshot is a value-typed copy of the active session mapping, published
// to subscribers after every mutation.
type Snapshot map[int]Session

func (sn Snapshot) clone() Snapshot {
	out := make(Snapshot, len(sn))
	for id, s := range sn {
		out[id] = s.clone()
	}
	return out
}
