package tunnel

// Status is emitted after every successful start or stop. Name is nil when no
// tunnel is active.
type Status struct {
	Name   *string `json:"name"`
	Active bool    `json:"is_active"`
}

func activeStatus(name string) Status {
	return Status{Name: &name, Active: true}
}

func idleStatus() Status {
	return Status{}
}

// Notifier must not block; it is called with the controller lock held.
type Notifier interface {
	Notify(Status)
}

// Recorder receives one call per start or stop attempt.
type Recorder interface {
	TunnelTransition(op string, err error)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Status) {}

type nopRecorder struct{}

func (nopRecorder) TunnelTransition(string, error) {}
