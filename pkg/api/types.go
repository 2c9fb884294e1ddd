package api

// Response is the standard JSON response envelope.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse summarizes daemon liveness.
type HealthResponse struct {
	Status         string `json:"status"`
	Uptime         string `json:"uptime"`
	LastEvent      string `json:"last_event,omitempty"`
	UplinkAttached bool   `json:"uplink_attached"`
	Delegated      int    `json:"delegated_prefixes"`
}

// EventEntry is one controller event as returned by the API.
type EventEntry struct {
	Seq    uint64 `json:"seq"`
	Time   string `json:"time"`
	Kind   string `json:"kind"`
	Link   string `json:"link,omitempty"`
	Detail string `json:"detail,omitempty"`
}
