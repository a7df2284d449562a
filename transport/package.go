package transport

import (
	"context"

	"github.com/ZironServer/ziron-go/batch"
	"github.com/ZironServer/ziron-go/invoke"
)

// Package is a prepared-but-not-yet-sent packet: a Transmit or Invoke's
// encoded text head, plus an optional companion binary-content frame that
// must never be split from it across a batch flush boundary.
type Package struct {
	Head        []byte
	BinaryFrame []byte

	// Invoke is non-nil when this Package was prepared by PrepareInvoke;
	// its future resolves once the response arrives.
	Invoke *InvokeFuture

	// afterSend runs once the frame(s) have actually left the socket
	// (immediately, or on a later batch flush) — e.g. firing a stream's
	// AfterSend hooks, or arming the invoke response timeout.
	afterSend func()

	// buffered is set when SendPackage actually hands this off to the
	// PackageBuffer, so TryCancelPackage can look it up by identity.
	buffered *batch.Package
}

// InvokeFuture is the pending result of one Invoke call.
type InvokeFuture struct {
	done chan struct{}
	resp invoke.Response
	err  error
}

func newInvokeFuture() *InvokeFuture {
	return &InvokeFuture{done: make(chan struct{})}
}

func (f *InvokeFuture) settle(resp invoke.Response, err error) {
	f.resp, f.err = resp, err
	close(f.done)
}

// Wait blocks until the invoke resolves, rejects, or ctx is done.
func (f *InvokeFuture) Wait(ctx context.Context) (invoke.Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return invoke.Response{}, ctx.Err()
	}
}
