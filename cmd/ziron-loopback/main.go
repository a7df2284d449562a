// Command ziron-loopback is a demo/test-harness binary exercising
// transmit/invoke/stream traffic between two transport.Controllers,
// bridged either by an in-process net.Pipe or by a real wsconn pair
// dialing a local gorilla/websocket server. Grounded on the teacher's
// cmd/maboo/main.go CLI dispatch-by-os.Args[1] shape.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZironServer/ziron-go/codec"
	"github.com/ZironServer/ziron-go/config"
	"github.com/ZironServer/ziron-go/transport"
	"github.com/ZironServer/ziron-go/wsconn"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "pipe":
		runPipe()
	case "serve":
		runServe()
	case "version":
		fmt.Printf("ziron-loopback v%s\n", version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// runPipe bridges two Controllers over a net.Pipe, mirroring spec.md §5's
// "two peers connect(...) directly" mode without any networking at all.
func runPipe() {
	cfg := config.Default()
	logger, closer := config.NewLogger(cfg.Logging)
	if closer != nil {
		defer closer.Close()
	}

	clientConn, serverConn := net.Pipe()

	opts := cfg.Transport.ToTransportOptions()
	bufA := newInMemoryBuffer(clientConn, logger)
	bufB := newInMemoryBuffer(serverConn, logger)

	client := transport.NewController(bufA, opts, logger.With("side", "client"))
	server := transport.NewController(bufB, opts, logger.With("side", "server"))

	wireEcho(server)

	client.EmitConnection(&pipeAdapter{conn: clientConn})
	server.EmitConnection(&pipeAdapter{conn: serverConn})

	go pumpPipe(clientConn, client, logger)
	go pumpPipe(serverConn, server, logger)

	demoInvoke(client, logger)

	logger.Info("pipe loopback demo finished")
}

// runServe starts a real websocket server and dials it with a real
// websocket client, exercising the full wsconn path end to end.
func runServe() {
	cfgPath := "ziron.yaml"
	if len(os.Args) > 2 {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Default()
	}
	logger, closer := config.NewLogger(cfg.Logging)
	if closer != nil {
		defer closer.Close()
	}
	logger.Info("ziron-loopback starting", "version", version)

	opts := cfg.Transport.ToTransportOptions()
	batchOpts := cfg.Batch.ToBatchOptions()

	handler := wsconn.NewHandler(logger, opts, batchOpts, func(connID string, c *transport.Controller) {
		wireEcho(c)
		logger.Info("server accepted connection", "conn_id", connID)
	})

	mux := http.NewServeMux()
	mux.Handle(cfg.Socket.Path, handler)

	srv := &http.Server{Addr: cfg.Socket.Address, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()
	logger.Info("ziron-loopback listening", "address", cfg.Socket.Address, "path", cfg.Socket.Path)

	time.Sleep(100 * time.Millisecond)
	client, closeClient, err := wsconn.Dial("ws://"+cfg.Socket.Address+cfg.Socket.Path, logger.With("side", "client"), opts, batchOpts)
	if err != nil {
		logger.Error("dial failed", "error", err)
		os.Exit(1)
	}
	defer closeClient()

	demoInvoke(client, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	logger.Info("ziron-loopback stopped")
}

// wireEcho registers an Invoke handler that echoes back whatever "name"
// field it receives, giving the demo something observable to call.
func wireEcho(c *transport.Controller) {
	c.OnInvoke(func(ctx *transport.InvokeContext) {
		m, _ := ctx.Data.(map[string]any)
		name, _ := m["name"].(string)
		reply := codec.Object(codec.Field{Key: "echo", Value: codec.String(name)})
		ctx.Resolve(reply, transport.TransmitOptions{})
	})
}

// demoInvoke sends one invoke call through c and logs the response.
func demoInvoke(c *transport.Controller, logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v := codec.Object(codec.Field{Key: "name", Value: codec.String("ziron")})
	resp, err := c.Invoke(ctx, "greet", v, transport.InvokeOptions{})
	if err != nil {
		logger.Error("demo invoke failed", "error", err)
		return
	}
	logger.Info("demo invoke succeeded", "response", resp.Data)
}

func printUsage() {
	fmt.Println(`ziron-loopback - ziron transport demo/test harness

Usage:
  ziron-loopback <command> [options]

Commands:
  pipe             Bridge two Controllers over an in-process net.Pipe
  serve [config]   Run a real websocket server and a real client dialer
  version          Show version
  help             Show this help`)
}
