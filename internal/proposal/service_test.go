package proposal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
)

type fakeExecutor struct {
	calls  atomic.Int32
	result string
	err    error
}

func (f *fakeExecutor) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	f.calls.Add(1)
	return f.result, f.err
}

func testService(exec *fakeExecutor) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(NewMemStore(), exec, nil, logger)
}

func TestApproveExecutes(t *testing.T) {
	exec := &fakeExecutor{result: "post created"}
	svc := testService(exec)

	p, err := svc.Propose("c1", "create_post", "Create a post", map[string]any{"body": "hi"})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if exec.calls.Load() != 0 {
		t.Fatal("proposing must not execute anything")
	}

	decided, err := svc.Approve(context.Background(), p.ID, "alice")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if decided.Status != StatusExecuted {
		t.Errorf("status is %s, want %s", decided.Status, StatusExecuted)
	}
	if decided.Result != "post created" {
		t.Errorf("result not recorded: %q", decided.Result)
	}
	if exec.calls.Load() != 1 {
		t.Errorf("expected exactly one execution, got %d", exec.calls.Load())
	}
}

func TestApproveExecutionFailure(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("backend down")}
	svc := testService(exec)

	p, _ := svc.Propose("c1", "create_post", "Create a post", nil)
	decided, err := svc.Approve(context.Background(), p.ID, "alice")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if decided.Status != StatusFailed {
		t.Errorf("status is %s, want %s", decided.Status, StatusFailed)
	}
	if decided.Error == "" {
		t.Error("execution error not recorded")
	}
}

func TestRejectNeverExecutes(t *testing.T) {
	exec := &fakeExecutor{}
	svc := testService(exec)

	p, _ := svc.Propose("c1", "create_post", "Create a post", nil)
	decided, err := svc.Reject(p.ID, "alice", "not now")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if decided.Status != StatusRejected {
		t.Errorf("status is %s, want %s", decided.Status, StatusRejected)
	}
	if decided.DecidedBy != "alice" || decided.RejectReason != "not now" {
		t.Errorf("decision metadata not recorded: %+v", decided)
	}
	if exec.calls.Load() != 0 {
		t.Error("rejected proposal must never execute")
	}
}

func TestDoubleApproveDoesNotReExecute(t *testing.T) {
	exec := &fakeExecutor{result: "ok"}
	svc := testService(exec)

	p, _ := svc.Propose("c1", "create_post", "Create a post", nil)
	if _, err := svc.Approve(context.Background(), p.ID, "alice"); err != nil {
		t.Fatalf("first approve: %v", err)
	}

	_, err := svc.Approve(context.Background(), p.ID, "alice")
	var conflict *ErrStateConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}
	if conflict.Status != StatusExecuted {
		t.Errorf("conflict carries status %s, want %s", conflict.Status, StatusExecuted)
	}
	if exec.calls.Load() != 1 {
		t.Errorf("side effect ran %d times, want 1", exec.calls.Load())
	}
}

func TestApproveAfterReject(t *testing.T) {
	exec := &fakeExecutor{}
	svc := testService(exec)

	p, _ := svc.Propose("c1", "create_post", "Create a post", nil)
	svc.Reject(p.ID, "alice", "not now")

	_, err := svc.Approve(context.Background(), p.ID, "alice")
	var conflict *ErrStateConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}
	if exec.calls.Load() != 0 {
		t.Error("rejected proposal executed on later approve")
	}
}
