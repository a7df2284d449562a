package stream

import "sync"

// safeIntegerCeiling/safeIntegerFloor mirror JS's Number.MAX_SAFE_INTEGER
// so a ported peer and a JS peer assign stream ids from the same range
// (spec §3's identifier spaces).
const (
	safeIntegerCeiling = 1<<53 - 1
	safeIntegerFloor   = -(1<<53 - 1)
)

// Registry holds the active write-stream and read-stream maps for one side
// of one connection, keyed by stream id, plus the two signed id counters
// (spec §3: "A stream id is live in at most one of the writer or reader
// map on this side, never both").
type Registry struct {
	mu      sync.Mutex
	writers map[int64]*WriteStream
	readers map[int64]*ReadStream
	reserved map[int64]bool

	nextObjectID int64 // positive, starts at 1, increments
	nextBinaryID int64 // negative, starts at -1, decrements
}

// NewRegistry returns an empty stream registry.
func NewRegistry() *Registry {
	return &Registry{
		writers:      make(map[int64]*WriteStream),
		readers:      make(map[int64]*ReadStream),
		reserved:     make(map[int64]bool),
		nextObjectID: 1,
		nextBinaryID: -1,
	}
}

func (r *Registry) idLiveLocked(id int64) bool {
	if _, ok := r.writers[id]; ok {
		return true
	}
	if _, ok := r.readers[id]; ok {
		return true
	}
	return r.reserved[id]
}

// ReserveWriterID picks the next free id for the requested kind (skip-on-
// collision wrap, spec §9 Open Question c) and marks it reserved so a
// concurrent reservation cannot collide before AdoptWriter registers the
// real *WriteStream. This is codec.EncodeDeps.AllocateStreamID's backing
// implementation: the codec calls BindID with the returned id itself.
func (r *Registry) ReserveWriterID(isBinaryStream bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var id int64
	if isBinaryStream {
		id = r.nextBinaryID
		for r.idLiveLocked(id) {
			id--
			if id < safeIntegerFloor {
				id = -1
			}
		}
		r.nextBinaryID = id - 1
		if r.nextBinaryID < safeIntegerFloor {
			r.nextBinaryID = -1
		}
	} else {
		id = r.nextObjectID
		for r.idLiveLocked(id) {
			id++
			if id > safeIntegerCeiling {
				id = 1
			}
		}
		r.nextObjectID = id + 1
		if r.nextObjectID > safeIntegerCeiling {
			r.nextObjectID = 1
		}
	}
	r.reserved[id] = true
	return id
}

// AdoptWriter registers w (already bound to an id via ReserveWriterID +
// BindID) as the live writer for its id, clearing the reservation.
func (r *Registry) AdoptWriter(w *WriteStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := w.ID()
	delete(r.reserved, id)
	r.writers[id] = w
}

// RegisterReader records r2 as the live reader for id (already decoded
// from an inbound Stream placeholder, so its id is fixed by the peer).
func (r *Registry) RegisterReader(id int64, r2 *ReadStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[id] = r2
}

// Writer looks up the live writer for id, if any.
func (r *Registry) Writer(id int64) (*WriteStream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.writers[id]
	return w, ok
}

// Reader looks up the live reader for id, if any.
func (r *Registry) Reader(id int64) (*ReadStream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.readers[id]
	return rs, ok
}

// RemoveWriter drops the writer entry for id (called once the stream
// closes, spec §3's lifecycle "destroyed on end/close/bad-connection").
func (r *Registry) RemoveWriter(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.writers, id)
}

// RemoveReader drops the reader entry for id.
func (r *Registry) RemoveReader(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.readers, id)
}

// DropAll aborts every live writer and reader with err and clears both
// maps (bad-connection fan-out, spec §4.6 emitBadConnection).
func (r *Registry) DropAll(err error) {
	r.mu.Lock()
	writers := r.writers
	readers := r.readers
	r.writers = make(map[int64]*WriteStream)
	r.readers = make(map[int64]*ReadStream)
	r.mu.Unlock()

	for _, w := range writers {
		w.Abort(err)
	}
	for _, rs := range readers {
		rs.Abort(err)
	}
}

// Writers returns a snapshot of every currently live writer, for the
// socket adapter to drain once it observes backpressure easing (spec §4.5
// "emitSendBackpressureDrain").
func (r *Registry) Writers() []*WriteStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*WriteStream, 0, len(r.writers))
	for _, w := range r.writers {
		out = append(out, w)
	}
	return out
}

// Len reports the number of live writers and readers (test/diagnostic use).
func (r *Registry) Len() (writers, readers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writers), len(r.readers)
}
