package transport

import (
	"sync"
	"sync/atomic"

	"github.com/ZironServer/ziron-go/codec"
	"github.com/ZironServer/ziron-go/wire"
	"github.com/ZironServer/ziron-go/zerr"
)

// InvokeContext is handed to the OnInvoke listener for one inbound
// InvokePacket. Exactly one of Resolve/Reject may be called, and at most
// once (spec.md §4.6 `_processInvoke`).
type InvokeContext struct {
	Procedure string
	Data      any
	DataType  wire.DataType

	c      *Controller
	callID uint64
	stamp  int64

	mu   sync.Mutex
	done bool
}

// guard enforces the two distinct failure modes spec.md §4.6 calls out:
// a second Resolve/Reject on an already-settled context is a programmer
// error reported via OnListenerError; a first call whose connection has
// since gone bad silently no-ops (the peer is gone, there's nothing to
// send a response to).
func (ic *InvokeContext) guard() bool {
	ic.mu.Lock()
	if ic.done {
		ic.mu.Unlock()
		ic.c.reportListenerError(&zerr.InvalidActionError{Reason: "invoke response already sent for this call"})
		return false
	}
	ic.done = true
	stale := atomic.LoadInt64(&ic.c.badConnectionStamp) != ic.stamp
	ic.mu.Unlock()
	return !stale
}

// Resolve sends a successful invoke response. Errors encoding or sending
// it are logged, not returned — there is no caller left to propagate to
// once execution is back inside this callback.
func (ic *InvokeContext) Resolve(v codec.Value, opts TransmitOptions) {
	if !ic.guard() {
		return
	}
	res, err := ic.c.encode(v, opts.DisableComplexTypes)
	if err != nil {
		ic.c.logger.Warn("invoke response: encode failed", "procedure", ic.Procedure, "error", err)
		return
	}
	data, err := dataField(res)
	if err != nil {
		ic.c.logger.Warn("invoke response: data field failed", "procedure", ic.Procedure, "error", err)
		return
	}
	p := wire.InvokeDataRespPacket{CallID: ic.callID, DataType: res.DataType, Data: data, Meta: metaField(res)}
	head, err := p.Encode()
	if err != nil {
		ic.c.logger.Warn("invoke response: tuple encode failed", "procedure", ic.Procedure, "error", err)
		return
	}
	frame := buildBinaryFrame(res)
	if err := ic.c.sendHeadAndFrame(head, frame); err != nil {
		ic.c.logger.Warn("invoke response: send failed", "procedure", ic.Procedure, "error", err)
	}
}

// Reject sends a failed invoke response carrying rejErr's message.
func (ic *InvokeContext) Reject(rejErr error) {
	if !ic.guard() {
		return
	}
	raw, err := ic.c.dehydrateError(rejErr)
	if err != nil {
		ic.c.logger.Warn("invoke reject: dehydrate failed", "procedure", ic.Procedure, "error", err)
		return
	}
	p := wire.InvokeErrRespPacket{CallID: ic.callID, RawErr: raw}
	head, err := p.Encode()
	if err != nil {
		ic.c.logger.Warn("invoke reject: tuple encode failed", "procedure", ic.Procedure, "error", err)
		return
	}
	if err := ic.c.sendHeadAndFrame(head, nil); err != nil {
		ic.c.logger.Warn("invoke reject: send failed", "procedure", ic.Procedure, "error", err)
	}
}
