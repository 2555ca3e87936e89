package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testWait = 2 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

// sinkConn records everything written to it; reads block until Close.
type sinkConn struct {
	mu   sync.Mutex
	buf  strings.Builder
	done chan struct{}
	once sync.Once
}

func newSinkConn() *sinkConn {
	return &sinkConn{done: make(chan struct{})}
}

func (c *sinkConn) Read([]byte) (int, error) {
	<-c.done
	return 0, net.ErrClosed
}

func (c *sinkConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *sinkConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *sinkConn) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *sinkConn) LocalAddr() net.Addr              { return fakeAddr("sink-local") }
func (c *sinkConn) RemoteAddr() net.Addr             { return fakeAddr("sink-remote") }
func (c *sinkConn) SetDeadline(time.Time) error      { return nil }
func (c *sinkConn) SetReadDeadline(time.Time) error  { return nil }
func (c *sinkConn) SetWriteDeadline(time.Time) error { return nil }

// failConn rejects every write, standing in for a recipient whose socket died.
type failConn struct {
	*sinkConn
}

func (c *failConn) Write([]byte) (int, error) {
	return 0, net.ErrClosed
}

// chatClient is the client half of a connection with a background collector so
// server-side sends never block on an unread peer.
type chatClient struct {
	t    *testing.T
	conn net.Conn
	mu   sync.Mutex
	got  strings.Builder
	done chan struct{}
}

func newChatClient(t *testing.T, conn net.Conn) *chatClient {
	t.Helper()
	c := &chatClient{t: t, conn: conn, done: make(chan struct{})}
	go c.collect()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *chatClient) collect() {
	defer close(c.done)
	buf := make([]byte, 1024)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.got.Write(buf[:n])
			c.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (c *chatClient) output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.got.String()
}

func (c *chatClient) waitFor(substr string) string {
	c.t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		if out := c.output(); strings.Contains(out, substr) {
			return out
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.t.Fatalf("never received %q, got %q", substr, c.output())
	return ""
}

func (c *chatClient) send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line))
	require.NoError(c.t, err)
}

func (c *chatClient) join(name string) {
	c.t.Helper()
	c.waitFor("Enter your name")
	c.send(name)
	c.waitFor("Type :quit to leave")
}

func (c *chatClient) waitClosed() {
	c.t.Helper()
	select {
	case <-c.done:
	case <-time.After(testWait):
		c.t.Fatal("connection never closed")
	}
}

// startPipeSession runs a session over an in-memory pipe the way the acceptor
// would, returning the client half.
func startPipeSession(t *testing.T, hub *Hub) (*chatClient, *Session) {
	t.Helper()
	client, srvConn := net.Pipe()
	sess := NewSession(srvConn, hub, testLogger(), 1024)
	hub.Track(sess)
	return newChatClient(t, client), sess
}

func testConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            0,
		Backlog:         5,
		BufferSize:      1024,
		AcceptPoll:      50 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
		LogLevel:        "error",
	}
}

type testServer struct {
	srv    *Server
	hub    *Hub
	cancel context.CancelFunc
	runErr error
	done   chan struct{}
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	hub := NewHub(testLogger())
	srv, err := NewServer(testConfig(), hub, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{srv: srv, hub: hub, cancel: cancel, done: make(chan struct{})}
	go func() {
		ts.runErr = srv.Run(ctx)
		close(ts.done)
	}()
	waitUntil(t, srv.Running, "server never started accepting")

	t.Cleanup(func() {
		cancel()
		select {
		case <-ts.done:
		case <-time.After(5 * time.Second):
			t.Error("server never stopped")
		}
	})
	return ts
}

// stop triggers shutdown and returns Run's result.
func (ts *testServer) stop(t *testing.T) error {
	t.Helper()
	ts.cancel()
	select {
	case <-ts.done:
		return ts.runErr
	case <-time.After(5 * time.Second):
		t.Fatal("server never stopped")
		return nil
	}
}

func (ts *testServer) dial(t *testing.T) *chatClient {
	t.Helper()
	conn, err := net.Dial("tcp", ts.srv.Addr())
	require.NoError(t, err)
	return newChatClient(t, conn)
}
