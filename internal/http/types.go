package http

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string   `json:"status"`
	Telemetry string   `json:"telemetry"`
	Exporter  string   `json:"exporter,omitempty"`
	Reasons   []string `json:"reasons,omitempty"`
}

// WorkResponse is the response body for GET /api/v1/work.
type WorkResponse struct {
	Name          string `json:"name"`
	Delay         string `json:"delay"`
	CorrelationID string `json:"correlation_id"`
	TraceID       string `json:"trace_id,omitempty"`
}

// OutboundResponse is the response body for GET /api/v1/outbound.
type OutboundResponse struct {
	URL           string `json:"url"`
	Status        int    `json:"status"`
	CorrelationID string `json:"correlation_id"`
}
