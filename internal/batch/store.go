package batch

import "context"

// Store persists batch job records. Put overwrites; the orchestrator writes
// a snapshot after every chunk so progress survives a restart.
type Store interface {
	Get(ctx context.Context, id string) (*BatchJob, bool, error)
	Put(ctx context.Context, job *BatchJob) error
	List(ctx context.Context) ([]*BatchJob, error)
}
