package policy

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a policy.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Policy is the mutable head of a version chain. Only the ledger's
// operations may move it.
type Policy struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Status         Status    `json:"status"`
	CurrentVersion string    `json:"current_version"`
	CurrentSeq     int       `json:"current_seq"` // gapless, strictly increasing
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Version is one immutable entry in a policy's chain. Once written it is
// never altered or reused.
type Version struct {
	PolicyID  string          `json:"policy_id"`
	Number    string          `json:"number"` // semantic version string
	Seq       int             `json:"seq"`
	Content   json.RawMessage `json:"content"`
	Note      string          `json:"note"`
	CreatedAt time.Time       `json:"created_at"`
}

// Op names a ledger mutation in the audit trail.
type Op string

const (
	OpCreate   Op = "create"
	OpUpdate   Op = "update"
	OpRollback Op = "rollback"
	OpDelete   Op = "delete"
)

// AuditEntry records one mutation. Retained indefinitely.
type AuditEntry struct {
	ID       string    `json:"id"`
	PolicyID string    `json:"policy_id"`
	Actor    string    `json:"actor"`
	Op       Op        `json:"op"`
	Before   string    `json:"before"` // version before the mutation, empty on create
	After    string    `json:"after"`
	At       time.Time `json:"at"`
}
