// Package wsconn adapts a gorilla/websocket connection to
// transport.Socket, letting a transport.Controller drive a real network
// connection instead of the bespoke JSON+length-prefixed framing the
// teacher's own internal/websocket package spoke.
package wsconn

import (
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// lowBackpressureQueueDepth caps how many writes may be in flight before
// HasLowSendBackpressure reports false, gating stream writers (spec.md
// §4.5: "before sending a stream chunk, write-side awaits
// hasLowSendBackpressure()").
const lowBackpressureQueueDepth = 16

// Socket wraps one *websocket.Conn as a transport.Socket. Writes are
// serialized under writeMu since gorilla/websocket forbids concurrent
// writers on one connection; queued tracks in-flight writes for the
// backpressure predicate.
type Socket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	corkMu  sync.Mutex
	queued  int64
}

// New wraps conn as a transport.Socket.
func New(conn *websocket.Conn) *Socket {
	return &Socket{conn: conn}
}

// Send writes one frame, text or binary.
func (s *Socket) Send(payload []byte, isBinary bool) error {
	atomic.AddInt64(&s.queued, 1)
	defer atomic.AddInt64(&s.queued, -1)

	messageType := websocket.TextMessage
	if isBinary {
		messageType = websocket.BinaryMessage
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, payload)
}

// Cork holds corkMu across fn, so the writes of one corked batch (a text
// head and its companion binary-content frame) never interleave with those
// of another corked batch. Each Send inside fn still takes writeMu on its
// own, so a plain Send from another goroutine can land between two writes
// of a corked batch.
func (s *Socket) Cork(fn func()) {
	s.corkMu.Lock()
	defer s.corkMu.Unlock()
	fn()
}

// HasLowSendBackpressure reports whether fewer than
// lowBackpressureQueueDepth writes are currently in flight.
func (s *Socket) HasLowSendBackpressure() bool {
	return atomic.LoadInt64(&s.queued) < lowBackpressureQueueDepth
}

// Close closes the underlying connection.
func (s *Socket) Close() error {
	return s.conn.Close()
}
