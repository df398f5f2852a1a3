package domain

// Dev server run states.
const (
	DevServerStopped  = "stopped"
	DevServerStarting = "starting"
	DevServerRunning  = "running"
	DevServerError    = "error"
)

// DevServerStatus is a point-in-time snapshot of a project's dev server run.
type DevServerStatus struct {
	ProjectID string   `json:"project_id"`
	Status    string   `json:"status"`
	Port      int      `json:"port,omitempty"`
	URL       string   `json:"url,omitempty"`
	Logs      []string `json:"logs"`
}

// DevServerSummary is the compact form attached to project listings.
type DevServerSummary struct {
	Running bool `json:"dev_server_running"`
	Port    int  `json:"dev_server_port,omitempty"`
}
