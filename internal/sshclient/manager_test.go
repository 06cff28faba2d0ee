package sshclient

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	testUser     = "harvest"
	testPassword = "secret"
)

// testServer tracks an in-process SSH server's state.
type testServer struct {
	addr    string
	cleanup func()

	mu       sync.Mutex
	netConns []net.Conn
}

func (ts *testServer) closeAllConns() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.netConns {
		c.Close()
	}
	ts.netConns = nil
}

// execHandler produces the response for one exec request. When hang is
// true the server writes stdout but never sends an exit status or closes
// the channel, simulating a remote that stops responding mid-command.
type execHandler func(cmd string) (stdout string, exit uint32, hang bool)

// testSSHServer starts an in-process SSH server that accepts password auth
// and answers exec requests via handler.
func testSSHServer(t *testing.T, handler execHandler) *testServer {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if conn.User() == testUser && string(password) == testPassword {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("auth failed")
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ts := &testServer{addr: listener.Addr().String()}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			ts.mu.Lock()
			ts.netConns = append(ts.netConns, netConn)
			ts.mu.Unlock()
			go handleTestConnection(netConn, config, handler)
		}
	}()

	ts.cleanup = func() {
		listener.Close()
		ts.closeAllConns()
		<-done
	}

	return ts
}

func handleTestConnection(netConn net.Conn, config *ssh.ServerConfig, handler execHandler) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range requests {
				if req.Type == "exec" {
					var payload struct{ Command string }
					ssh.Unmarshal(req.Payload, &payload)
					if req.WantReply {
						req.Reply(true, nil)
					}
					stdout, exit, hang := handler(payload.Command)
					if stdout != "" {
						ch.Write([]byte(stdout))
					}
					if hang {
						continue
					}
					ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{exit}))
					return
				}
				if req.WantReply {
					req.Reply(true, nil)
				}
			}
		}()
	}
}

// echoHandler answers "echo X" with "X\n" and exit 0, like a shell would.
func echoHandler(cmd string) (string, uint32, bool) {
	if cmd == "echo ping" {
		return "ping\n", 0, false
	}
	return "", 1, false
}

func testTarget(t *testing.T, ts *testServer) Target {
	t.Helper()
	host, portStr, err := net.SplitHostPort(ts.addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return Target{Host: host, Port: port, Username: testUser, Password: testPassword}
}

func TestOpenSession_Healthy(t *testing.T) {
	ts := testSSHServer(t, echoHandler)
	defer ts.cleanup()

	mgr := NewManager(5*time.Second, 2*time.Second)
	defer mgr.Close()

	sess, err := mgr.OpenSession(context.Background(), testTarget(t, ts))
	if err != nil {
		t.Fatalf("OpenSession() error: %v", err)
	}
	defer sess.Close()

	if sess.Client() == nil {
		t.Fatal("session has nil client")
	}
}

func TestOpenSession_ProbeWrongOutput(t *testing.T) {
	ts := testSSHServer(t, func(cmd string) (string, uint32, bool) {
		return "pong\n", 0, false
	})
	defer ts.cleanup()

	mgr := NewManager(5*time.Second, 2*time.Second)
	defer mgr.Close()

	_, err := mgr.OpenSession(context.Background(), testTarget(t, ts))
	if err == nil {
		t.Fatal("OpenSession() expected error for wrong probe output")
	}
	var connErr *ConnectivityError
	if !errors.As(err, &connErr) {
		t.Fatalf("error type = %T, want *ConnectivityError", err)
	}
	if connErr.Stage != "probe" {
		t.Errorf("Stage = %q, want %q", connErr.Stage, "probe")
	}
}

func TestOpenSession_ProbeNonZeroExit(t *testing.T) {
	ts := testSSHServer(t, func(cmd string) (string, uint32, bool) {
		return "ping\n", 1, false
	})
	defer ts.cleanup()

	mgr := NewManager(5*time.Second, 2*time.Second)
	defer mgr.Close()

	_, err := mgr.OpenSession(context.Background(), testTarget(t, ts))
	var connErr *ConnectivityError
	if !errors.As(err, &connErr) {
		t.Fatalf("OpenSession() error = %v, want ConnectivityError", err)
	}
	if connErr.Stage != "probe" {
		t.Errorf("Stage = %q, want %q", connErr.Stage, "probe")
	}
}

func TestOpenSession_DialFailure(t *testing.T) {
	mgr := NewManager(500*time.Millisecond, time.Second)
	defer mgr.Close()

	// Port 1 on localhost: immediate connection refused.
	_, err := mgr.OpenSession(context.Background(), Target{Host: "127.0.0.1", Port: 1, Username: "x", Password: "x"})
	var connErr *ConnectivityError
	if !errors.As(err, &connErr) {
		t.Fatalf("OpenSession() error = %v, want ConnectivityError", err)
	}
	if connErr.Stage != "dial" {
		t.Errorf("Stage = %q, want %q", connErr.Stage, "dial")
	}
}

func TestOpenSession_AuthFailure(t *testing.T) {
	ts := testSSHServer(t, echoHandler)
	defer ts.cleanup()

	mgr := NewManager(5*time.Second, 2*time.Second)
	defer mgr.Close()

	target := testTarget(t, ts)
	target.Password = "wrong"
	_, err := mgr.OpenSession(context.Background(), target)
	var connErr *ConnectivityError
	if !errors.As(err, &connErr) {
		t.Fatalf("OpenSession() error = %v, want ConnectivityError", err)
	}
	if connErr.Stage != "handshake" {
		t.Errorf("Stage = %q, want %q", connErr.Stage, "handshake")
	}
}

func TestOpenSession_HandshakeStall(t *testing.T) {
	// A host that accepts TCP but never speaks SSH must not block
	// OpenSession past the connect timeout.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	go func() {
		for {
			c, err := listener.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	mgr := NewManager(500*time.Millisecond, time.Second)
	defer mgr.Close()

	host, portStr, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	start := time.Now()
	_, err = mgr.OpenSession(context.Background(), Target{Host: host, Port: port, Username: "x", Password: "x"})
	elapsed := time.Since(start)

	var connErr *ConnectivityError
	if !errors.As(err, &connErr) {
		t.Fatalf("OpenSession() error = %v, want ConnectivityError", err)
	}
	if connErr.Stage != "handshake" {
		t.Errorf("Stage = %q, want %q", connErr.Stage, "handshake")
	}
	if elapsed > 3*time.Second {
		t.Errorf("OpenSession took %s against a silent host, want bounded by the connect timeout", elapsed)
	}
}

func TestOpenSession_ProbeNeverCompletes(t *testing.T) {
	// The probe channel opens but the remote never reports an exit status.
	ts := testSSHServer(t, func(cmd string) (string, uint32, bool) {
		return "", 0, true
	})
	defer ts.cleanup()

	mgr := NewManager(5*time.Second, 500*time.Millisecond)
	defer mgr.Close()

	start := time.Now()
	_, err := mgr.OpenSession(context.Background(), testTarget(t, ts))
	elapsed := time.Since(start)

	var connErr *ConnectivityError
	if !errors.As(err, &connErr) {
		t.Fatalf("OpenSession() error = %v, want ConnectivityError", err)
	}
	if connErr.Stage != "probe" {
		t.Errorf("Stage = %q, want %q", connErr.Stage, "probe")
	}
	if elapsed > 3*time.Second {
		t.Errorf("probe hung %s, want bounded by the probe timeout", elapsed)
	}
}

func TestSessionClose_Idempotent(t *testing.T) {
	ts := testSSHServer(t, echoHandler)
	defer ts.cleanup()

	mgr := NewManager(5*time.Second, 2*time.Second)
	defer mgr.Close()

	sess, err := mgr.OpenSession(context.Background(), testTarget(t, ts))
	if err != nil {
		t.Fatalf("OpenSession() error: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("first Close() error: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
}

func TestManagerClose_ReleasesOutstanding(t *testing.T) {
	ts := testSSHServer(t, echoHandler)
	defer ts.cleanup()

	mgr := NewManager(5*time.Second, 2*time.Second)

	sess, err := mgr.OpenSession(context.Background(), testTarget(t, ts))
	if err != nil {
		t.Fatalf("OpenSession() error: %v", err)
	}

	if err := mgr.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	// Second close is a no-op.
	if err := mgr.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	// Session close after manager shutdown must be safe.
	sess.Close()

	if _, err := mgr.OpenSession(context.Background(), testTarget(t, ts)); err == nil {
		t.Fatal("OpenSession() after Close() should fail")
	}
}
