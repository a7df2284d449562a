package stream

import (
	"testing"
	"time"
)

func TestReadStreamAutoAcceptsOnCreation(t *testing.T) {
	var gotInitial int64 = -1
	hooks := ReadHooks{SendAccept: func(initialCredit int64) error { gotInitial = initialCredit; return nil }}
	NewReadStream(1, KindObject, 1024, hooks)
	if gotInitial != 1024 {
		t.Fatalf("expected auto StreamAccept(1024), got %d", gotInitial)
	}
}

func TestReadStreamDeliversOutOfOrderDecodesInSentOrder(t *testing.T) {
	r := NewReadStream(1, KindObject, 100, ReadHooks{SendAccept: func(int64) error { return nil }})

	seq0 := r.Reserve()
	seq1 := r.Reserve()
	seq2 := r.Reserve()

	// Resolve out of arrival order: 2, then 0, then 1.
	go func() {
		time.Sleep(5 * time.Millisecond)
		r.Resolve(seq2, "c", 1, nil)
		time.Sleep(5 * time.Millisecond)
		r.Resolve(seq0, "a", 1, nil)
		time.Sleep(5 * time.Millisecond)
		r.Resolve(seq1, "b", 1, nil)
	}()

	var got []string
	for i := 0; i < 3; i++ {
		item, ok := r.Recv()
		if !ok {
			t.Fatalf("unexpected stream end at index %d", i)
		}
		got = append(got, item.Value.(string))
	}
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("expected sent-order delivery [a b c], got %v", got)
	}
}

func TestReadStreamEndTerminatesAfterPendingChunks(t *testing.T) {
	r := NewReadStream(1, KindObject, 100, ReadHooks{SendAccept: func(int64) error { return nil }})
	seq0 := r.Reserve()
	endSeq := r.Reserve()

	r.ResolveEnd(endSeq, false, nil, 0, nil)
	// end resolved first but must not be delivered before seq0.

	done := make(chan bool, 1)
	go func() {
		item, ok := r.Recv()
		done <- ok && !item.IsEnd
	}()

	select {
	case <-done:
		t.Fatal("end delivered ahead of an earlier pending chunk")
	case <-time.After(30 * time.Millisecond):
	}

	r.Resolve(seq0, "first", 1, nil)
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected the chunk, not end, to be delivered first")
		}
	case <-time.After(time.Second):
		t.Fatal("chunk never delivered")
	}

	item, ok := r.Recv()
	if !ok || !item.IsEnd {
		t.Fatalf("expected end item second, got %+v ok=%v", item, ok)
	}

	if _, ok := r.Recv(); ok {
		t.Fatal("expected no items after end")
	}
}

func TestReadStreamHandleWriteStreamCloseOrdersAfterPending(t *testing.T) {
	r := NewReadStream(1, KindObject, 100, ReadHooks{SendAccept: func(int64) error { return nil }})
	seq0 := r.Reserve()
	r.HandleWriteStreamClose(503)

	done := make(chan Item, 1)
	go func() {
		item, _ := r.Recv()
		done <- item
	}()

	select {
	case <-done:
		t.Fatal("close delivered ahead of pending chunk")
	case <-time.After(30 * time.Millisecond):
	}

	r.Resolve(seq0, "x", 1, nil)
	item := <-done
	if item.IsEnd {
		t.Fatal("expected chunk before close signal")
	}

	closeItem, ok := r.Recv()
	if !ok || !closeItem.IsEnd || closeItem.Code != 503 {
		t.Fatalf("expected close(503), got %+v ok=%v", closeItem, ok)
	}
}

func TestReadStreamGrantConsumed(t *testing.T) {
	var granted int64
	hooks := ReadHooks{
		SendAccept:     func(int64) error { return nil },
		SendPermission: func(additional int64) error { granted = additional; return nil },
	}
	r := NewReadStream(1, KindObject, 100, hooks)
	if err := r.GrantConsumed(64); err != nil {
		t.Fatalf("GrantConsumed: %v", err)
	}
	if granted != 64 {
		t.Fatalf("expected 64 granted, got %d", granted)
	}
}
