package main

import (
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/ZironServer/ziron-go/batch"
	"github.com/ZironServer/ziron-go/transport"
)

// pipeAdapter implements transport.Socket over a net.Conn (specifically
// net.Pipe's in-memory pair), framing each message as a 1-byte
// isBinary flag followed by a 4-byte big-endian length and the payload.
// net.Pipe carries an unframed byte stream, unlike the message-oriented
// websocket.Conn that wsconn.Socket wraps, so the demo supplies the
// minimal framing itself rather than reusing wsconn.Socket.
type pipeAdapter struct {
	conn    net.Conn
	writeMu sync.Mutex
	corkMu  sync.Mutex
}

func (p *pipeAdapter) Send(payload []byte, isBinary bool) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	header := make([]byte, 5)
	if isBinary {
		header[0] = 1
	}
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := p.conn.Write(header); err != nil {
		return err
	}
	_, err := p.conn.Write(payload)
	return err
}

func (p *pipeAdapter) Cork(fn func()) {
	p.corkMu.Lock()
	defer p.corkMu.Unlock()
	fn()
}

func (p *pipeAdapter) HasLowSendBackpressure() bool { return true }

// pumpPipe reads framed messages off conn until it errs or closes, handing
// each one to ctrl.EmitMessage; mirrors wsconn's readPump for the pipe
// transport.
func pumpPipe(conn net.Conn, ctrl *transport.Controller, logger *slog.Logger) {
	defer func() {
		_ = conn.Close()
		ctrl.EmitBadConnection("pipe", "connection closed")
	}()

	header := make([]byte, 5)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			if err != io.EOF {
				logger.Debug("pipe read header failed", "error", err)
			}
			return
		}
		isBinary := header[0] == 1
		size := binary.BigEndian.Uint32(header[1:])
		payload := make([]byte, size)
		if _, err := io.ReadFull(conn, payload); err != nil {
			logger.Debug("pipe read payload failed", "error", err)
			return
		}
		ctrl.EmitMessage(payload, isBinary)
	}
}

// newInMemoryBuffer builds a batch.Buffer that flushes by writing directly
// to conn through a pipeAdapter-equivalent send, used as the demo's
// PackageBuffer for the pipe transport.
func newInMemoryBuffer(conn net.Conn, logger *slog.Logger) *batch.Buffer {
	sock := &pipeAdapter{conn: conn}
	return batch.New(16*1024, 0, func(items []*batch.Package) {
		sock.Cork(func() {
			for _, it := range items {
				if err := sock.Send(it.Payload, it.IsBinary); err != nil {
					logger.Debug("pipe flush send failed", "error", err)
					return
				}
				if it.Extra != nil {
					if err := sock.Send(it.Extra, true); err != nil {
						logger.Debug("pipe flush extra send failed", "error", err)
						return
					}
				}
			}
		})
	})
}
