package wsconn

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ZironServer/ziron-go/batch"
	"github.com/ZironServer/ziron-go/transport"
)

// BatchOptions configures the PackageBuffer each accepted connection gets.
// Grounded on the teacher's internal/pool/watcher.go ticker loop, here
// driving a flush deadline instead of a filesystem poll interval.
type BatchOptions struct {
	MaxBufferedBytes int
	MaxDelay         time.Duration
}

// DefaultBatchOptions matches spec.md §6's suggested defaults: flush once
// 16KiB has queued or 5ms have elapsed, whichever comes first.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{MaxBufferedBytes: 16 * 1024, MaxDelay: 5 * time.Millisecond}
}

// Handler upgrades incoming HTTP requests to WebSocket connections and
// drives one transport.Controller per connection, in the spirit of the
// teacher's internal/websocket.Handler but wired to ziron's Controller
// instead of the teacher's PHP-forwarding Manager.
type Handler struct {
	upgrader websocket.Upgrader

	logger       *slog.Logger
	opts         transport.Options
	batchOpts    BatchOptions
	onConnection func(connID string, c *transport.Controller)
}

// NewHandler constructs a Handler. onConnection is called synchronously
// from ServeHTTP right after the controller is wired up (registries ready,
// EmitConnection not yet called), so callers can register OnTransmit/
// OnInvoke/OnPing/OnPong/OnInvalidMessage/OnListenerError before any
// inbound frame can possibly arrive.
func NewHandler(logger *slog.Logger, opts transport.Options, batchOpts BatchOptions, onConnection func(connID string, c *transport.Controller)) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:       logger,
		opts:         opts,
		batchOpts:    batchOpts,
		onConnection: onConnection,
	}
}

// ServeHTTP upgrades the request, wires a Controller around the resulting
// connection, and blocks in a read pump until the connection closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	connID := generateConnID()
	sock := New(conn)
	logger := h.logger.With("conn_id", connID, "remote", r.RemoteAddr)

	buf := batch.New(h.batchOpts.MaxBufferedBytes, h.batchOpts.MaxDelay, func(items []*batch.Package) {
		sock.Cork(func() {
			for _, it := range items {
				if err := sock.Send(it.Payload, it.IsBinary); err != nil {
					logger.Debug("flush send failed", "error", err)
					return
				}
				if it.Extra != nil {
					if err := sock.Send(it.Extra, true); err != nil {
						logger.Debug("flush extra send failed", "error", err)
						return
					}
				}
			}
		})
	})

	ctrl := transport.NewController(buf, h.opts, logger)

	if h.onConnection != nil {
		h.onConnection(connID, ctrl)
	}

	ctrl.EmitConnection(sock)
	logger.Info("connection established")

	readPump(conn, ctrl, logger)
}

// readPump blocks reading frames off conn until it errs or closes, handing
// each one to the controller. Grounded on the teacher's
// internal/websocket/handler.go readPump goroutine.
func readPump(conn *websocket.Conn, ctrl *transport.Controller, logger *slog.Logger) {
	defer func() {
		_ = conn.Close()
		ctrl.EmitBadConnection("websocket", "connection closed")
		logger.Info("connection closed")
	}()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("unexpected close", "error", err)
			}
			return
		}
		isBinary := messageType == websocket.BinaryMessage
		if !isBinary && messageType != websocket.TextMessage {
			continue
		}
		ctrl.EmitMessage(payload, isBinary)
	}
}

// Dial opens a client-side ziron connection to url and returns the wired
// Controller, for use by cmd/ziron-loopback and tests that need a real
// client-side websocket dialer rather than an in-process pipe.
func Dial(url string, logger *slog.Logger, opts transport.Options, batchOpts BatchOptions) (*transport.Controller, func() error, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("wsconn: dial %s: %w", url, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	sock := New(conn)
	buf := batch.New(batchOpts.MaxBufferedBytes, batchOpts.MaxDelay, func(items []*batch.Package) {
		sock.Cork(func() {
			for _, it := range items {
				if err := sock.Send(it.Payload, it.IsBinary); err != nil {
					return
				}
				if it.Extra != nil {
					if err := sock.Send(it.Extra, true); err != nil {
						return
					}
				}
			}
		})
	})
	ctrl := transport.NewController(buf, opts, logger)
	ctrl.EmitConnection(sock)

	closer := func() error { return conn.Close() }
	go readPump(conn, ctrl, logger)
	return ctrl, closer, nil
}
