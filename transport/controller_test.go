package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ZironServer/ziron-go/batch"
	"github.com/ZironServer/ziron-go/codec"
	"github.com/ZironServer/ziron-go/wire"
	"github.com/ZironServer/ziron-go/zerr"
)

// pipeSocket wires two Controllers directly together in-process: every
// Send on one side is fed straight into the peer's EmitMessage, so tests
// exercise the real encode -> wire -> decode round trip without a network.
type pipeSocket struct {
	mu   sync.Mutex
	peer *Controller
}

func (s *pipeSocket) Send(payload []byte, isBinary bool) error {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	cp := append([]byte(nil), payload...)
	peer.EmitMessage(cp, isBinary)
	return nil
}

func (s *pipeSocket) Cork(fn func())               { fn() }
func (s *pipeSocket) HasLowSendBackpressure() bool { return true }

func newPairedControllers(t *testing.T, opts Options) (a, b *Controller) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bufA := batch.New(1<<20, time.Hour, func(items []*batch.Package) {})
	bufB := batch.New(1<<20, time.Hour, func(items []*batch.Package) {})
	a = NewController(bufA, opts, logger)
	b = NewController(bufB, opts, logger)

	sockA := &pipeSocket{}
	sockB := &pipeSocket{}
	sockA.peer = b
	sockB.peer = a
	a.EmitConnection(sockA)
	b.EmitConnection(sockB)
	return a, b
}

func TestTransmitDeliversPlainJSON(t *testing.T) {
	a, b := newPairedControllers(t, DefaultOptions())

	type received struct {
		sender string
		data   any
	}
	got := make(chan received, 1)
	b.OnTransmit(func(sender string, data any, dt wire.DataType) {
		got <- received{sender: sender, data: data}
	})

	v := codec.Object(codec.Field{Key: "hello", Value: codec.String("world")})
	if err := a.Transmit("room", v, TransmitOptions{}); err != nil {
		t.Fatalf("Transmit: %v", err)
	}

	select {
	case r := <-got:
		if r.sender != "room" {
			t.Fatalf("expected sender %q, got %q", "room", r.sender)
		}
		m, ok := r.data.(map[string]any)
		if !ok || m["hello"] != "world" {
			t.Fatalf("unexpected decoded data: %#v", r.data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transmit")
	}
}

func TestTransmitWithBlobRoundTrips(t *testing.T) {
	a, b := newPairedControllers(t, DefaultOptions())

	got := make(chan any, 1)
	b.OnTransmit(func(sender string, data any, dt wire.DataType) { got <- data })

	v := codec.Object(codec.Field{Key: "file", Value: codec.Blob([]byte("payload"))})
	if err := a.Transmit("room", v, TransmitOptions{}); err != nil {
		t.Fatalf("Transmit: %v", err)
	}

	select {
	case data := <-got:
		m, ok := data.(map[string]any)
		if !ok {
			t.Fatalf("expected object, got %#v", data)
		}
		blob, ok := m["file"].([]byte)
		if !ok || string(blob) != "payload" {
			t.Fatalf("unexpected blob field: %#v", m["file"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for blob transmit")
	}
}

func TestInvokeRoundTrip(t *testing.T) {
	a, b := newPairedControllers(t, DefaultOptions())

	b.OnInvoke(func(ctx *InvokeContext) {
		m, _ := ctx.Data.(map[string]any)
		reply := codec.Object(codec.Field{Key: "echo", Value: codec.String(m["name"].(string))})
		ctx.Resolve(reply, TransmitOptions{})
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v := codec.Object(codec.Field{Key: "name", Value: codec.String("alice")})
	resp, err := a.Invoke(ctx, "greet", v, InvokeOptions{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	m, ok := resp.Data.(map[string]any)
	if !ok || m["echo"] != "alice" {
		t.Fatalf("unexpected invoke response: %#v", resp.Data)
	}
}

func TestInvokeRejectDeliversError(t *testing.T) {
	a, b := newPairedControllers(t, DefaultOptions())

	b.OnInvoke(func(ctx *InvokeContext) {
		ctx.Reject(errors.New("nope"))
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := a.Invoke(ctx, "fail", codec.Null(), InvokeOptions{})
	if err == nil {
		t.Fatalf("expected an error from the rejected invoke")
	}
	if err.Error() != "nope" {
		t.Fatalf("expected error message %q, got %q", "nope", err.Error())
	}
}

func TestInvokeTimeoutWhenNoResponse(t *testing.T) {
	a, b := newPairedControllers(t, DefaultOptions())
	// b receives the invoke but its handler never calls Resolve/Reject,
	// so the call can only settle via a's own response-timeout timer.
	b.OnInvoke(func(ctx *InvokeContext) {})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := a.Invoke(ctx, "silence", codec.Null(), InvokeOptions{Timeout: 20 * time.Millisecond})
	if err == nil {
		t.Fatalf("expected a timeout error")
	}
	var timeoutErr *zerr.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected a *zerr.TimeoutError, got %T: %v", err, err)
	}
}

func TestInvokeContextDoubleResolveReportsListenerError(t *testing.T) {
	a, b := newPairedControllers(t, DefaultOptions())

	var listenerErr error
	var mu sync.Mutex
	done := make(chan struct{}, 1)
	b.OnListenerError(func(err error) {
		mu.Lock()
		listenerErr = err
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})
	b.OnInvoke(func(ctx *InvokeContext) {
		ctx.Resolve(codec.Null(), TransmitOptions{})
		ctx.Resolve(codec.Null(), TransmitOptions{})
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := a.Invoke(ctx, "twice", codec.Null(), InvokeOptions{}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected onListenerError to fire for the double resolve")
	}
	mu.Lock()
	defer mu.Unlock()
	var invalidAction *zerr.InvalidActionError
	if !errors.As(listenerErr, &invalidAction) {
		t.Fatalf("expected an InvalidActionError, got %v", listenerErr)
	}
}

func TestInvokeResponseAfterBadConnectionIsSilentlyDropped(t *testing.T) {
	a, b := newPairedControllers(t, DefaultOptions())

	ctxHolder := make(chan *InvokeContext, 1)
	b.OnInvoke(func(ctx *InvokeContext) { ctxHolder <- ctx })

	pkg, future, err := a.PrepareInvoke("late", codec.Null(), InvokeOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("PrepareInvoke: %v", err)
	}
	if err := a.SendPackage(pkg, false); err != nil {
		t.Fatalf("SendPackage: %v", err)
	}

	var ic *InvokeContext
	select {
	case ic = <-ctxHolder:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for invoke to arrive")
	}

	// b's own connection goes bad before it gets a chance to respond; the
	// InvokeContext's captured stamp is now stale, so Resolve must silently
	// no-op rather than attempt to send on a dead connection.
	b.EmitBadConnection("pipe", "simulated drop")
	ic.Resolve(codec.Null(), TransmitOptions{})

	waitCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, werr := future.Wait(waitCtx)
	if !errors.Is(werr, context.DeadlineExceeded) {
		t.Fatalf("expected the future to never settle after bad connection, got %v", werr)
	}
}

func TestIDAllocatorSkipsLiveIDsOnWrap(t *testing.T) {
	live := map[int64]bool{0: true, 1: true}
	alloc := newIDAllocator(func(id int64) bool { return live[id] })
	alloc.counter = safeIntegerCeiling - 1 // next() will produce safeIntegerCeiling, then wrap to 0

	first := alloc.next()
	if first != safeIntegerCeiling {
		t.Fatalf("expected %d, got %d", safeIntegerCeiling, first)
	}
	second := alloc.next()
	if second != 2 {
		t.Fatalf("expected wrap to skip live ids 0 and 1, landing on 2; got %d", second)
	}
}
