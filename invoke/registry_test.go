package invoke

import (
	"errors"
	"testing"
	"time"

	"github.com/ZironServer/ziron-go/zerr"
)

func TestResolve(t *testing.T) {
	r := NewRegistry()
	done := make(chan Response, 1)
	id := r.Prepare(func(resp Response) { done <- resp }, func(error) { t.Fatal("unexpected reject") }, false)
	r.Arm(id, time.Second)
	r.Resolve(id, "hello", 0)

	select {
	case resp := <-done:
		if resp.Data != "hello" {
			t.Errorf("unexpected resolved data: %v", resp.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("invoke never resolved")
	}
	if r.Len() != 0 {
		t.Errorf("expected pending entry removed")
	}
}

func TestResolveWithDataType(t *testing.T) {
	r := NewRegistry()
	done := make(chan Response, 1)
	id := r.Prepare(func(resp Response) { done <- resp }, func(error) {}, true)
	r.Arm(id, time.Second)
	r.Resolve(id, 42, 3)

	resp := <-done
	if !resp.HasType || resp.DataType != 3 {
		t.Errorf("expected data type carried through: %+v", resp)
	}
}

func TestTimeoutFiresWhenUnanswered(t *testing.T) {
	r := NewRegistry()
	done := make(chan error, 1)
	id := r.Prepare(func(Response) { t.Fatal("unexpected resolve") }, func(err error) { done <- err }, false)
	r.Arm(id, 10*time.Millisecond)

	select {
	case err := <-done:
		var te *zerr.TimeoutError
		if !errors.As(err, &te) || te.Kind != zerr.TimeoutInvokeResponse {
			t.Errorf("expected TimeoutError(InvokeResponse), got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("invoke never timed out")
	}
}

func TestLazyArmWaitsForEmbeddedStream(t *testing.T) {
	r := NewRegistry()
	done := make(chan error, 1)
	id := r.Prepare(func(Response) {}, func(err error) { done <- err }, false)

	r.AwaitStreamClose(id, 1)
	r.Arm(id, 10*time.Millisecond) // should NOT start the timer yet

	select {
	case <-done:
		t.Fatal("timer armed before embedded stream closed")
	case <-time.After(50 * time.Millisecond):
		// expected: still pending
	}

	r.StreamClosed(id)

	select {
	case err := <-done:
		var te *zerr.TimeoutError
		if !errors.As(err, &te) {
			t.Errorf("expected timeout after stream closed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timer never armed after stream closed")
	}
}

func TestDropAllRejectsPending(t *testing.T) {
	r := NewRegistry()
	done := make(chan error, 1)
	id := r.Prepare(func(Response) {}, func(err error) { done <- err }, false)
	r.Arm(id, time.Hour)

	sentinel := errors.New("bad connection")
	r.DropAll(sentinel)

	select {
	case err := <-done:
		if !errors.Is(err, sentinel) {
			t.Errorf("expected sentinel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("DropAll never rejected pending invoke")
	}
}

func TestIDWrapSkipsOutstanding(t *testing.T) {
	r := NewRegistry()
	r.nextID = safeIntegerCeiling
	first := r.Prepare(func(Response) {}, func(error) {}, false)
	if first != safeIntegerCeiling {
		t.Fatalf("expected first id at ceiling, got %d", first)
	}
	second := r.Prepare(func(Response) {}, func(error) {}, false)
	if second != 0 {
		t.Fatalf("expected wrap to 0, got %d", second)
	}
	// id 0 is now outstanding and id 1 is made outstanding below; the third
	// prepare starts at nextID 1 and must skip past it.
	r.pending[1] = &pending{resolve: func(Response) {}, reject: func(error) {}}
	third := r.Prepare(func(Response) {}, func(error) {}, false)
	if third == 0 || third == 1 {
		t.Fatalf("expected wrap-skip to avoid outstanding ids, got %d", third)
	}
}
