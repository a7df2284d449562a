// Package invoke implements the call-id allocation, pending-response
// bookkeeping, and lazily-armed response timeouts of spec §4.4.
package invoke

import (
	"sync"
	"time"

	"github.com/ZironServer/ziron-go/zerr"
)

// Response is what a settled invoke resolves to: the decoded value and,
// when the caller asked for it, the wire DataType it arrived as.
type Response struct {
	Data     any
	DataType uint8
	HasType  bool
}

type pending struct {
	resolve        func(Response)
	reject         func(error)
	timer          *time.Timer
	returnDataType bool
	awaitingStream int // count of embedded streams not yet closed; timer arms at zero
	armed          bool
	timeout        time.Duration
}

// Registry is the pending-invokes map callId -> {resolve, reject, timer?}.
type Registry struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pending
}

// NewRegistry returns an empty invoke registry. ids start at 0 and wrap at
// the safe-integer ceiling (spec §3); the skip-on-collision policy (§9 Open
// Question c) is applied on wrap.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[uint64]*pending)}
}

// safeIntegerCeiling mirrors JS's Number.MAX_SAFE_INTEGER so a ported peer
// and a JS peer assign ids from the same range.
const safeIntegerCeiling = 1<<53 - 1

// Prepare assigns a callId synchronously and installs resolve/reject
// callbacks, matching spec §4.4's "prepareInvoke assigns callId
// synchronously; the timer is armed lazily."
func (r *Registry) Prepare(resolve func(Response), reject func(error), returnDataType bool) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	for {
		if _, taken := r.pending[id]; !taken {
			break
		}
		id = (id + 1) % (safeIntegerCeiling + 1)
	}
	r.nextID = (id + 1) % (safeIntegerCeiling + 1)

	r.pending[id] = &pending{resolve: resolve, reject: reject, returnDataType: returnDataType}
	return id
}

// Arm starts the response-deadline timer for callID, unless an embedded
// stream is still open (AwaitStreamClose was called and hasn't reached
// zero yet), in which case arming is deferred until the last such stream
// closes.
func (r *Registry) Arm(callID uint64, timeout time.Duration) {
	r.mu.Lock()
	p, ok := r.pending[callID]
	if !ok {
		r.mu.Unlock()
		return
	}
	p.timeout = timeout
	if p.awaitingStream > 0 {
		r.mu.Unlock()
		return
	}
	r.armLocked(callID, p)
	r.mu.Unlock()
}

func (r *Registry) armLocked(callID uint64, p *pending) {
	if p.armed {
		return
	}
	p.armed = true
	p.timer = time.AfterFunc(p.timeout, func() {
		r.timeout(callID)
	})
}

// AwaitStreamClose defers timer arming until every embedded write-stream
// named here has closed (spec §4.4: "await all embedded streams' closed").
// count is the number of such streams; the caller wires each stream's
// OnClosed hook to StreamClosed, which must be invoked once per stream.
func (r *Registry) AwaitStreamClose(callID uint64, count int) {
	if count == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[callID]
	if !ok {
		return
	}
	p.awaitingStream += count
}

// StreamClosed signals one embedded stream has closed; once the count
// reaches zero and Arm has already recorded a timeout, the timer starts.
func (r *Registry) StreamClosed(callID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[callID]
	if !ok {
		return
	}
	if p.awaitingStream > 0 {
		p.awaitingStream--
	}
	if p.awaitingStream == 0 && p.timeout > 0 {
		r.armLocked(callID, p)
	}
}

// Resolve completes a pending invoke successfully (InvokeDataResp).
func (r *Registry) Resolve(callID uint64, data any, dataType uint8) {
	p := r.remove(callID)
	if p == nil {
		return
	}
	resp := Response{Data: data}
	if p.returnDataType {
		resp.DataType = dataType
		resp.HasType = true
	}
	p.resolve(resp)
}

// Reject completes a pending invoke with a hydrated error (InvokeErrResp).
func (r *Registry) Reject(callID uint64, err error) {
	p := r.remove(callID)
	if p == nil {
		return
	}
	p.reject(err)
}

func (r *Registry) timeout(callID uint64) {
	p := r.remove(callID)
	if p == nil {
		return
	}
	p.reject(&zerr.TimeoutError{Kind: zerr.TimeoutInvokeResponse})
}

func (r *Registry) remove(callID uint64) *pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[callID]
	if !ok {
		return nil
	}
	delete(r.pending, callID)
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

// DropAll rejects every pending invoke with err (bad-connection).
func (r *Registry) DropAll(err error) {
	r.mu.Lock()
	outstanding := r.pending
	r.pending = make(map[uint64]*pending)
	r.mu.Unlock()

	for _, p := range outstanding {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.reject(err)
	}
}

// Len reports the number of pending invokes (test/diagnostic use).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
