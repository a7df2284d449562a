package binarycontent

import (
	"errors"
	"testing"
	"time"

	"github.com/ZironServer/ziron-go/zerr"
)

func TestAwaitDeliver(t *testing.T) {
	r := NewRegistry()
	done := make(chan [][]byte, 1)
	r.Await(1, time.Second, func(blobs [][]byte, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- blobs
	})
	r.Deliver(1, [][]byte{[]byte("a")}, false)

	select {
	case blobs := <-done:
		if len(blobs) != 1 || string(blobs[0]) != "a" {
			t.Errorf("unexpected blobs: %v", blobs)
		}
	case <-time.After(time.Second):
		t.Fatal("resolver never fired")
	}
	if r.Len() != 0 {
		t.Errorf("expected resolver removed after delivery")
	}
}

func TestDeliverChained(t *testing.T) {
	r := NewRegistry()
	done := make(chan [][]byte, 1)
	r.Await(2, time.Second, func(blobs [][]byte, err error) {
		done <- blobs
	})
	r.Deliver(2, [][]byte{[]byte("a")}, true)
	if r.Len() != 1 {
		t.Fatalf("expected resolver still outstanding after continuation frame")
	}
	r.Deliver(2, [][]byte{[]byte("b")}, false)

	blobs := <-done
	if len(blobs) != 2 || string(blobs[0]) != "a" || string(blobs[1]) != "b" {
		t.Errorf("expected buffered blobs across continuation frames, got %v", blobs)
	}
}

func TestTimeout(t *testing.T) {
	r := NewRegistry()
	done := make(chan error, 1)
	r.Await(3, 10*time.Millisecond, func(blobs [][]byte, err error) {
		done <- err
	})

	select {
	case err := <-done:
		var te *zerr.TimeoutError
		if !errors.As(err, &te) || te.Kind != zerr.TimeoutBinaryResolve {
			t.Errorf("expected TimeoutError(BinaryResolve), got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("resolver never timed out")
	}
}

func TestDropAll(t *testing.T) {
	r := NewRegistry()
	done := make(chan error, 1)
	r.Await(4, time.Hour, func(blobs [][]byte, err error) {
		done <- err
	})
	sentinel := errors.New("bad connection")
	r.DropAll(sentinel)

	select {
	case err := <-done:
		if !errors.Is(err, sentinel) {
			t.Errorf("expected sentinel error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("resolver never fired on DropAll")
	}
	if r.Len() != 0 {
		t.Errorf("expected registry cleared")
	}
}

func TestDuplicateResolverPanics(t *testing.T) {
	r := NewRegistry()
	r.Await(5, time.Second, func([][]byte, error) {})
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic on duplicate resolver id")
		}
	}()
	r.Await(5, time.Second, func([][]byte, error) {})
}
