package client

import (
	"errors"
	"time"
)

// ErrBusy is returned when the daemon is already running a start or stop.
var ErrBusy = errors.New("start/stop already in progress")

// ServiceStatus mirrors one entry of the daemon's snapshot.
type ServiceStatus struct {
	Name   string `json:"name"`
	State  string `json:"state"` // unknown|up|down
	Detail string `json:"detail,omitempty"`
}

func (s ServiceStatus) Up() bool { return s.State == "up" }

// Status is the snapshot returned by status, refresh, start and stop.
type Status struct {
	Services   []ServiceStatus `json:"services"`
	CapturedAt time.Time       `json:"captured_at"`
	TunnelURL  string          `json:"tunnel_url"`
}

// Get returns the status of the named service.
func (s Status) Get(name string) (ServiceStatus, bool) {
	for _, st := range s.Services {
		if st.Name == name {
			return st, true
		}
	}
	return ServiceStatus{}, false
}

// ServiceInfo describes how the daemon probes, launches and stops a service.
type ServiceInfo struct {
	Name   string `json:"name"`
	Probe  string `json:"probe"`
	Launch string `json:"launch,omitempty"`
	Stop   string `json:"stop,omitempty"`
	Settle string `json:"settle"`
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	Error string `json:"error"`
}
