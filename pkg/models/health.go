package models

// HealthResponse is the liveness probe payload for GET /health
type HealthResponse struct {
	Status       string `json:"status"`
	BrowserState string `json:"browser_state"`
	Headless     bool   `json:"headless"`
}

// ServiceInfo describes the service for GET /
type ServiceInfo struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}
