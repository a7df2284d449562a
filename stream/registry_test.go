package stream

import "testing"

func TestReserveWriterIDSigns(t *testing.T) {
	r := NewRegistry()
	objID := r.ReserveWriterID(false)
	if objID != 1 {
		t.Fatalf("expected first object id 1, got %d", objID)
	}
	binID := r.ReserveWriterID(true)
	if binID != -1 {
		t.Fatalf("expected first binary id -1, got %d", binID)
	}
	objID2 := r.ReserveWriterID(false)
	if objID2 != 2 {
		t.Fatalf("expected second object id 2, got %d", objID2)
	}
}

func TestAdoptWriterClearsReservation(t *testing.T) {
	r := NewRegistry()
	id := r.ReserveWriterID(false)
	w := NewWriteStream(KindObject, WriteSinks{}, func() bool { return true })
	w.BindID(id)
	r.AdoptWriter(w)

	got, ok := r.Writer(id)
	if !ok || got != w {
		t.Fatalf("expected writer registered under id %d", id)
	}
	writers, _ := r.Len()
	if writers != 1 {
		t.Fatalf("expected 1 live writer, got %d", writers)
	}
}

func TestReserveWriterIDSkipsOutstanding(t *testing.T) {
	r := NewRegistry()
	r.nextObjectID = safeIntegerCeiling
	first := r.ReserveWriterID(false)
	if first != safeIntegerCeiling {
		t.Fatalf("expected ceiling id, got %d", first)
	}
	second := r.ReserveWriterID(false)
	if second != 1 {
		t.Fatalf("expected wrap to 1, got %d", second)
	}
	r.reserved[2] = true
	third := r.ReserveWriterID(false)
	if third != 3 {
		t.Fatalf("expected skip past reserved id 2, got %d", third)
	}
}

func TestRegistryDropAllAbortsLiveStreams(t *testing.T) {
	r := NewRegistry()
	id := r.ReserveWriterID(false)
	w := NewWriteStream(KindObject, WriteSinks{}, func() bool { return true })
	w.BindID(id)
	w.Accept(10)
	r.AdoptWriter(w)

	rs := NewReadStream(-1, KindBinary, 10, ReadHooks{SendAccept: func(int64) error { return nil }})
	r.RegisterReader(-1, rs)

	sentinel := errNoReason
	r.DropAll(sentinel)

	if w.State() != StateClosed {
		t.Errorf("expected writer aborted to Closed")
	}
	if rs.State() != StateClosed {
		t.Errorf("expected reader aborted to Closed")
	}
	writers, readers := r.Len()
	if writers != 0 || readers != 0 {
		t.Errorf("expected registry cleared after DropAll, got writers=%d readers=%d", writers, readers)
	}
}

var errNoReason = &testErr{"bad connection"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
