package stage

// Health is one worker's line in the daemon status snapshot. A worker that
// failed recently is not Ready until it runs cleanly for a while.
type Health struct {
	Name     string `json:"name"`
	Ready    bool   `json:"ready"`
	Restarts int    `json:"restarts"`
	Detail   string `json:"detail,omitempty"`
}

// Healthy reports a worker running without recent failures.
func Healthy(name string, restarts int) Health {
	return Health{Name: name, Ready: true, Restarts: restarts}
}

// Unhealthy reports a worker whose last run failed with detail.
func Unhealthy(name string, restarts int, detail string) Health {
	return Health{Name: name, Restarts: restarts, Detail: detail}
}

// State is the word the CLI prints for h.
func (h Health) State() string {
	if h.Ready {
		return "ready"
	}
	return "failing"
}
