// Package policy is the version ledger for enforcement policies. Every
// mutation appends to an immutable per-policy version chain; rollback copies
// a historical version forward rather than rewriting history, and deletion
// archives the policy with its versions retained for audit.
package policy
