package policy

import "context"

// Store persists policies, their version chains, and the audit trail.
//
// UpdatePolicy is a compare-and-swap on the policy's sequence number: the
// write succeeds only if the stored CurrentSeq still equals expectSeq, and
// fails with a conflict fault otherwise. This is the only mutual exclusion
// the ledger needs; writers to different policy IDs never contend.
type Store interface {
	GetPolicy(ctx context.Context, id string) (*Policy, bool, error)
	CreatePolicy(ctx context.Context, p *Policy, v *Version) error
	UpdatePolicy(ctx context.Context, p *Policy, v *Version, expectSeq int) error

	GetVersion(ctx context.Context, policyID, number string) (*Version, bool, error)
	ListVersions(ctx context.Context, policyID string) ([]*Version, error)

	AppendAudit(ctx context.Context, e *AuditEntry) error
	ListAudit(ctx context.Context, policyID string) ([]*AuditEntry, error)
}
