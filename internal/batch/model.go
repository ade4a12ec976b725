package batch

import "time"

// EndpointType distinguishes the two device classes in a store.
type EndpointType string

const (
	TypePOSTerminal EndpointType = "pos_terminal"
	TypeAccessPoint EndpointType = "access_point"
)

// Endpoint is one device in a batch's working set. The batch borrows the
// endpoint for its lifetime; it does not own endpoint identity.
type Endpoint struct {
	ID      string       `json:"id"`
	Type    EndpointType `json:"type"`
	StoreID int          `json:"store_id"`
	VLAN    int          `json:"vlan"`
}

// Status is the lifecycle state of a batch job. A batch always finishes as
// completed; per-item outcomes live in the counters, not the status.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// ItemFailure records one failed endpoint with its error kind.
type ItemFailure struct {
	EndpointID string `json:"endpoint_id"`
	Kind       string `json:"kind"`
	Detail     string `json:"detail"`
}

// BatchJob is the durable record of one bulk operation. Total is fixed at
// creation; succeeded+failed never exceeds it. A cancelled job completes
// with the counts actually processed.
type BatchJob struct {
	ID          string        `json:"id"`
	Operation   string        `json:"operation"`
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Status      Status        `json:"status"`
	Cancelled   bool          `json:"cancelled"`
	Failures    []ItemFailure `json:"failures,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Progress is a point-in-time snapshot of a job's counters.
type Progress struct {
	JobID     string `json:"job_id"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Total     int    `json:"total"`
	Status    Status `json:"status"`
	Cancelled bool   `json:"cancelled"`
}
