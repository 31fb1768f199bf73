package supervisor

import (
	"time"

	"github.com/loykin/clawpanel/internal/detector"
	"github.com/loykin/clawpanel/internal/process"
	"github.com/loykin/clawpanel/internal/terminator"
)

// Names of the supervised services, in start order.
const (
	ServiceGateway = "gateway"
	ServiceBridge  = "bridge"
	ServiceTunnel  = "tunnel"
)

// Service is the immutable description of one supervised service: how to
// probe it, how to launch it and how to find it again for termination.
type Service struct {
	Name     string
	Detector detector.Detector
	// Launch is nil for services the supervisor only observes.
	Launch *process.Spec
	// Stop is resolved at stop time. A zero Kind disables termination.
	Stop terminator.Target
	// Settle is the pause after launching this service before the next step.
	Settle time.Duration
}

// State is the last observed liveness of a service.
type State string

const (
	StateUnknown State = "unknown"
	StateUp      State = "up"
	StateDown    State = "down"
)

// ServiceStatus is the result of the latest probe of one service.
type ServiceStatus struct {
	Name   string `json:"name"`
	State  State  `json:"state"`
	Detail string `json:"detail,omitempty"`
}

func (s ServiceStatus) Up() bool { return s.State == StateUp }

// Snapshot is a point-in-time view of every service, in configured order.
// Snapshots are replaced wholesale and never mutated after publication.
type Snapshot struct {
	Services   []ServiceStatus `json:"services"`
	CapturedAt time.Time       `json:"captured_at"`
}

// Get returns the status of the named service.
func (s Snapshot) Get(name string) (ServiceStatus, bool) {
	for _, st := range s.Services {
		if st.Name == name {
			return st, true
		}
	}
	return ServiceStatus{}, false
}

// TunnelURL is the public URL of the tunnel, or "" when it is not up.
func (s Snapshot) TunnelURL() string {
	st, ok := s.Get(ServiceTunnel)
	if !ok || !st.Up() {
		return ""
	}
	return st.Detail
}

func (s Snapshot) isUp(name string) bool {
	st, ok := s.Get(name)
	return ok && st.Up()
}

// Equal compares service states structurally, ignoring CapturedAt.
func (s Snapshot) Equal(o Snapshot) bool {
	if len(s.Services) != len(o.Services) {
		return false
	}
	for i := range s.Services {
		if s.Services[i] != o.Services[i] {
			return false
		}
	}
	return true
}

func (s Snapshot) clone() Snapshot {
	s.Services = append([]ServiceStatus(nil), s.Services...)
	return s
}

func initialSnapshot(services []Service) *Snapshot {
	st := make([]ServiceStatus, len(services))
	for i, svc := range services {
		st[i] = ServiceStatus{Name: svc.Name, State: StateUnknown}
	}
	return &Snapshot{Services: st}
}
