package token

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/axisop/outpost/internal/config"
	"github.com/axisop/outpost/internal/message"
	"github.com/axisop/outpost/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEnv(dir string) *provider.Env {
	return &provider.Env{Logger: testLogger(), StateDir: dir}
}

// fakeConn records sends and can simulate a closed connection.
type fakeConn struct {
	mu     sync.Mutex
	sent   []*message.Message
	closed bool
}

func (c *fakeConn) Send(msg *message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return os.ErrClosed
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestSetupAdoptsConfiguredToken(t *testing.T) {
	dir := t.TempDir()
	p := New(config.TokenConfig{Initial: "T1", RefreshInterval: time.Hour}, testLogger())

	if err := p.Setup(testEnv(dir)); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	tok, ok := p.Token()
	if !ok || tok != "T1" {
		t.Errorf("Token() = %q, %v; want %q, true", tok, ok, "T1")
	}

	data, err := os.ReadFile(filepath.Join(dir, "token"))
	if err != nil {
		t.Fatalf("token file not written: %v", err)
	}
	if string(data) != "T1" {
		t.Errorf("persisted token = %q, want %q", data, "T1")
	}
}

func TestSetupPersistedTokenWins(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "token"), []byte("T2"), 0o600); err != nil {
		t.Fatal(err)
	}

	p := New(config.TokenConfig{Initial: "T3", RefreshInterval: time.Hour}, testLogger())
	if err := p.Setup(testEnv(dir)); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	tok, ok := p.Token()
	if !ok || tok != "T2" {
		t.Errorf("Token() = %q, %v; want persisted %q", tok, ok, "T2")
	}
}

func TestSetupWithNoTokenAnywhere(t *testing.T) {
	p := New(config.TokenConfig{RefreshInterval: time.Hour}, testLogger())
	if err := p.Setup(testEnv(t.TempDir())); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if _, ok := p.Token(); ok {
		t.Error("Token() should report unset when nothing is configured or persisted")
	}
}

func TestHandleIssueUpdatesAndPersists(t *testing.T) {
	dir := t.TempDir()
	p := New(config.TokenConfig{Initial: "T1", RefreshInterval: time.Hour}, testLogger())
	env := testEnv(dir)
	if err := p.Setup(env); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	msg, err := message.Decode([]byte(`{"type":"client.token.issue","token":"T4"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	h, ok := p.Handlers()[msg.Name()]
	if !ok {
		t.Fatalf("no handler for %q", msg.Name())
	}
	if err := h(msg, &fakeConn{}, env); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	tok, _ := p.Token()
	if tok != "T4" {
		t.Errorf("Token() = %q, want %q", tok, "T4")
	}
	data, err := os.ReadFile(filepath.Join(dir, "token"))
	if err != nil {
		t.Fatalf("token file unreadable: %v", err)
	}
	if string(data) != "T4" {
		t.Errorf("persisted token = %q, want %q", data, "T4")
	}
}

func TestHandleIssueWithExpiry(t *testing.T) {
	dir := t.TempDir()
	p := New(config.TokenConfig{Initial: "T1", RefreshInterval: time.Hour}, testLogger())
	env := testEnv(dir)
	if err := p.Setup(env); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	msg, err := message.Decode([]byte(`{"type":"client.token.issue","token":"T5","expires_at":"2031-01-02T15:04:05Z"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if err := p.Handlers()["token.issue"](msg, &fakeConn{}, env); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	want, _ := time.Parse(time.RFC3339, "2031-01-02T15:04:05Z")
	if !p.Expiry().Equal(want) {
		t.Errorf("Expiry() = %v, want %v", p.Expiry(), want)
	}

	// Expiry survives a fresh setup from disk.
	p2 := New(config.TokenConfig{RefreshInterval: time.Hour}, testLogger())
	if err := p2.Setup(testEnv(dir)); err != nil {
		t.Fatalf("second Setup failed: %v", err)
	}
	tok, _ := p2.Token()
	if tok != "T5" {
		t.Errorf("reloaded Token() = %q, want %q", tok, "T5")
	}
	if !p2.Expiry().Equal(want) {
		t.Errorf("reloaded Expiry() = %v, want %v", p2.Expiry(), want)
	}
}

func TestHandleIssueWithoutToken(t *testing.T) {
	p := New(config.TokenConfig{Initial: "T1", RefreshInterval: time.Hour}, testLogger())
	env := testEnv(t.TempDir())
	if err := p.Setup(env); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	msg, _ := message.Decode([]byte(`{"type":"client.token.issue"}`))
	if err := p.Handlers()["token.issue"](msg, &fakeConn{}, env); err == nil {
		t.Error("handler should reject token.issue without a token field")
	}

	tok, _ := p.Token()
	if tok != "T1" {
		t.Errorf("Token() = %q after rejected issue, want %q", tok, "T1")
	}
}

func TestRefreshTimerLifecycle(t *testing.T) {
	p := New(config.TokenConfig{Initial: "T1", RefreshInterval: 20 * time.Millisecond}, testLogger())
	env := testEnv(t.TempDir())
	if err := p.Setup(env); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	conn := &fakeConn{}
	if err := p.OnConnect(conn, env); err != nil {
		t.Fatalf("OnConnect failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for conn.sentCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("refresh request never sent")
		case <-time.After(5 * time.Millisecond):
		}
	}

	conn.mu.Lock()
	if got := conn.sent[0].Type; got != RefreshType {
		t.Errorf("refresh message type = %q, want %q", got, RefreshType)
	}
	conn.mu.Unlock()

	if err := p.OnDisconnect(conn, env); err != nil {
		t.Fatalf("OnDisconnect failed: %v", err)
	}
	after := conn.sentCount()
	time.Sleep(100 * time.Millisecond)
	if conn.sentCount() != after {
		t.Error("refresh timer kept firing after disconnect")
	}

	// Disarming twice (disconnect then stop) must not panic.
	if err := p.OnStop("shutdown", conn, env); err != nil {
		t.Fatalf("OnStop failed: %v", err)
	}
}

func TestRefreshTickOnClosedConnIsNoOp(t *testing.T) {
	p := New(config.TokenConfig{Initial: "T1", RefreshInterval: 10 * time.Millisecond}, testLogger())
	env := testEnv(t.TempDir())
	if err := p.Setup(env); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	conn := &fakeConn{closed: true}
	if err := p.OnConnect(conn, env); err != nil {
		t.Fatalf("OnConnect failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	p.OnDisconnect(conn, env)

	if conn.sentCount() != 0 {
		t.Errorf("sends on closed conn = %d, want 0", conn.sentCount())
	}
}
