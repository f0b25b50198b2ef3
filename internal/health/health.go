// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ComponentHealth contains health metrics for one component.
type ComponentHealth struct {
	Name   string       `json:"name"`
	Status SystemStatus `json:"status"`
	Detail any          `json:"detail,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus               `json:"system_status"`
	Components   map[string]ComponentHealth `json:"components"`
}

// Aggregate returns the worst status in report.
func Aggregate(report map[string]ComponentHealth) SystemStatus {
	status := StatusHealthy
	for _, c := range report {
		if c.Status == StatusCritical {
			return StatusCritical
		}
		if c.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return status
}
