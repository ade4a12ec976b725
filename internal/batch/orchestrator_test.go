package batch_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/batch"
	"github.com/linnemanlabs/warden/internal/batch/memstore"
	"github.com/linnemanlabs/warden/internal/fault"
)

func noopOp(name string) batch.Operation {
	return batch.OperationFunc{OpName: name, Fn: func(context.Context, batch.Endpoint) error { return nil }}
}

// waitForCompleted polls the orchestrator until the job leaves running.
func waitForCompleted(t *testing.T, o *batch.Orchestrator, id string) *batch.BatchJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok, err := o.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if ok && job.Status == batch.StatusCompleted {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("batch did not complete within deadline")
	return nil
}

func TestRun_FleetWideComplianceCheck(t *testing.T) {
	t.Parallel()

	// 500 stores: 2500 POS terminals + 500 access points
	endpoints := batch.GenerateInventory(500)
	if len(endpoints) != 3000 {
		t.Fatalf("inventory size = %d, want 3000", len(endpoints))
	}

	// exactly one endpoint is permanently broken
	op := batch.OperationFunc{OpName: "compliance_check", Fn: func(_ context.Context, ep batch.Endpoint) error {
		if ep.ID == "POS-0042-03" {
			return fault.New(fault.KindPermanent, "endpoint unreachable")
		}
		return nil
	}}

	o := batch.NewOrchestrator(memstore.New(), log.Nop(), nil)
	job, err := o.Run(context.Background(), endpoints, op, 100, 10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	done := waitForCompleted(t, o, job.ID)
	if done.Succeeded != 2999 {
		t.Errorf("succeeded = %d, want 2999", done.Succeeded)
	}
	if done.Failed != 1 {
		t.Errorf("failed = %d, want 1", done.Failed)
	}
	// a batch with failures still completes; only the summary reflects them
	if done.Status != batch.StatusCompleted {
		t.Errorf("status = %q, want completed", done.Status)
	}
	if done.Cancelled {
		t.Error("job reported cancelled")
	}
	if len(done.Failures) != 1 || done.Failures[0].EndpointID != "POS-0042-03" {
		t.Errorf("failures = %+v, want the one broken endpoint", done.Failures)
	}
	if done.Failures[0].Kind != string(fault.KindPermanent) {
		t.Errorf("failure kind = %q, want permanent", done.Failures[0].Kind)
	}
	if done.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set")
	}
}

func TestRun_CountersNeverExceedTotal(t *testing.T) {
	t.Parallel()

	endpoints := batch.GenerateInventory(50)
	o := batch.NewOrchestrator(memstore.New(), log.Nop(), nil)

	job, err := o.Run(context.Background(), endpoints, noopOp("policy_update"), 10, 4)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p, ok, err := o.Progress(context.Background(), job.ID)
		if err != nil || !ok {
			t.Fatalf("Progress: ok=%v err=%v", ok, err)
		}
		if p.Succeeded+p.Failed > p.Total {
			t.Fatalf("counters exceed total: %d+%d > %d", p.Succeeded, p.Failed, p.Total)
		}
		if p.Status == batch.StatusCompleted {
			if p.Succeeded != len(endpoints) {
				t.Errorf("succeeded = %d, want %d", p.Succeeded, len(endpoints))
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("batch did not complete within deadline")
}

func TestRun_ProgressObservableMidFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var started sync.Once
	firstStarted := make(chan struct{})

	op := batch.OperationFunc{OpName: "slow", Fn: func(_ context.Context, _ batch.Endpoint) error {
		started.Do(func() { close(firstStarted) })
		<-release
		return nil
	}}

	o := batch.NewOrchestrator(memstore.New(), log.Nop(), nil)
	job, err := o.Run(context.Background(), batch.GenerateInventory(2), op, 3, 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	<-firstStarted
	// polling must not block on the in-flight chunks
	p, ok, err := o.Progress(context.Background(), job.ID)
	if err != nil || !ok {
		t.Fatalf("Progress: ok=%v err=%v", ok, err)
	}
	if p.Status != batch.StatusRunning {
		t.Errorf("status = %q, want running", p.Status)
	}
	if p.Total != 12 {
		t.Errorf("total = %d, want 12", p.Total)
	}

	close(release)
	waitForCompleted(t, o, job.ID)
}

func TestCancel_DropsQueuedChunks(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var started sync.Once
	firstStarted := make(chan struct{})
	var applied atomic.Int64

	op := batch.OperationFunc{OpName: "slow", Fn: func(_ context.Context, _ batch.Endpoint) error {
		started.Do(func() { close(firstStarted) })
		<-release
		applied.Add(1)
		return nil
	}}

	// one chunk in flight at a time, many queued behind it
	o := batch.NewOrchestrator(memstore.New(), log.Nop(), nil)
	endpoints := batch.GenerateInventory(10) // 60 endpoints, 12 chunks of 5
	job, err := o.Run(context.Background(), endpoints, op, 5, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	<-firstStarted
	if err := o.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(release)

	done := waitForCompleted(t, o, job.ID)
	if !done.Cancelled {
		t.Error("job not marked cancelled")
	}
	if done.Status != batch.StatusCompleted {
		t.Errorf("status = %q, want completed", done.Status)
	}
	// the in-flight chunk finished, the queued ones were dropped
	if done.Succeeded < 5 {
		t.Errorf("succeeded = %d, want at least the in-flight chunk", done.Succeeded)
	}
	if done.Succeeded == done.Total {
		t.Error("cancellation processed the whole batch")
	}
	if got := int(applied.Load()); got != done.Succeeded {
		t.Errorf("applied = %d, job counted %d", got, done.Succeeded)
	}
}

func TestCancel_UnknownJob(t *testing.T) {
	t.Parallel()

	o := batch.NewOrchestrator(memstore.New(), log.Nop(), nil)
	if err := o.Cancel("ghost"); !fault.Is(err, fault.KindNotFound) {
		t.Errorf("err = %v, want not-found fault", err)
	}
}

func TestRun_Validation(t *testing.T) {
	t.Parallel()

	o := batch.NewOrchestrator(memstore.New(), log.Nop(), nil)
	endpoints := batch.GenerateInventory(1)

	cases := []struct {
		name string
		call func() error
	}{
		{"nil operation", func() error {
			_, err := o.Run(context.Background(), endpoints, nil, 10, 2)
			return err
		}},
		{"empty endpoints", func() error {
			_, err := o.Run(context.Background(), nil, noopOp("x"), 10, 2)
			return err
		}},
		{"zero batch size", func() error {
			_, err := o.Run(context.Background(), endpoints, noopOp("x"), 0, 2)
			return err
		}},
		{"zero concurrency", func() error {
			_, err := o.Run(context.Background(), endpoints, noopOp("x"), 10, 0)
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.call(); !fault.Is(err, fault.KindValidation) {
				t.Errorf("err = %v, want validation fault", err)
			}
		})
	}
}

func TestGenerateInventory(t *testing.T) {
	t.Parallel()

	endpoints := batch.GenerateInventory(3)
	if len(endpoints) != 18 {
		t.Fatalf("size = %d, want 18", len(endpoints))
	}

	var pos, ap int
	for _, ep := range endpoints {
		switch ep.Type {
		case batch.TypePOSTerminal:
			pos++
			if ep.VLAN != 100 {
				t.Errorf("%s vlan = %d, want 100", ep.ID, ep.VLAN)
			}
		case batch.TypeAccessPoint:
			ap++
			if ep.VLAN != 200 {
				t.Errorf("%s vlan = %d, want 200", ep.ID, ep.VLAN)
			}
		}
	}
	if pos != 15 || ap != 3 {
		t.Errorf("pos = %d ap = %d, want 15 and 3", pos, ap)
	}
	if endpoints[0].ID != "POS-0001-01" {
		t.Errorf("first id = %q", endpoints[0].ID)
	}
	if endpoints[5].ID != "AP-0001-01" {
		t.Errorf("sixth id = %q", endpoints[5].ID)
	}
}
