// Package sshclient provides single-use SSH sessions to remote log hosts.
//
// Unlike a pooled connection manager, every logical operation gets its own
// freshly dialed and authenticated session that is closed when the
// operation finishes. A stuck or half-dead session therefore cannot poison
// later operations; the price is one connection setup per call, which is
// acceptable at harvesting cadence.
//
// A session is only handed out after a health probe: a trivial command is
// executed on a throwaway exec channel and its output compared against a
// known literal. Sessions that fail the probe are closed and reported as a
// ConnectivityError.
package sshclient

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	// probeCommand is the trivial round-trip command used to verify that a
	// fresh session can actually execute commands.
	probeCommand = "echo ping"

	// probeExpect is the exact output a healthy session must produce.
	probeExpect = "ping"
)

// Target identifies one remote host and its credentials.
type Target struct {
	Host     string
	Port     int
	Username string
	Password string
}

func (t Target) addr() string {
	return net.JoinHostPort(t.Host, fmt.Sprintf("%d", t.Port))
}

// ConnectivityError reports a failure to establish a usable session:
// TCP connect, SSH handshake/auth, or the post-connect health probe.
type ConnectivityError struct {
	Host  string
	Stage string // "dial", "handshake", "probe"
	Err   error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("ssh %s %s: %v", e.Stage, e.Host, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Manager opens single-use SSH sessions. It tracks outstanding sessions so
// shutdown can release them even while callers still hold references.
type Manager struct {
	ConnectTimeout time.Duration
	ProbeTimeout   time.Duration

	mu       sync.Mutex
	closed   bool
	sessions map[*Session]struct{}
}

// NewManager creates a Manager with the given connect and probe timeouts.
func NewManager(connectTimeout, probeTimeout time.Duration) *Manager {
	return &Manager{
		ConnectTimeout: connectTimeout,
		ProbeTimeout:   probeTimeout,
		sessions:       make(map[*Session]struct{}),
	}
}

// Session wraps one authenticated, health-checked SSH client. It is
// single-use: obtain it, run one logical operation, close it.
type Session struct {
	client *ssh.Client
	mgr    *Manager
	once   sync.Once
}

// Client returns the underlying SSH client for opening exec channels.
func (s *Session) Client() *ssh.Client { return s.client }

// Close releases the underlying client. Safe to call multiple times and
// from any goroutine; only the first call takes effect.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.mgr.forget(s)
		err = s.client.Close()
	})
	return err
}

// OpenSession dials, authenticates, and health-checks a fresh SSH session
// for the target. Any failure is returned as a ConnectivityError with the
// failing stage; a session that fails the probe is closed before returning.
func (m *Manager) OpenSession(ctx context.Context, target Target) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, &ConnectivityError{Host: target.addr(), Stage: "dial", Err: fmt.Errorf("session manager closed")}
	}
	m.mu.Unlock()

	cfg := &ssh.ClientConfig{
		User: target.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(target.Password),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         m.ConnectTimeout,
	}

	addr := target.addr()

	dialer := net.Dialer{Timeout: m.ConnectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectivityError{Host: addr, Stage: "dial", Err: err}
	}

	// ClientConfig.Timeout only bounds ssh.Dial; a handshake over an
	// existing conn needs its own deadline or a silent host blocks forever.
	if m.ConnectTimeout > 0 {
		netConn.SetDeadline(time.Now().Add(m.ConnectTimeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return nil, &ConnectivityError{Host: addr, Stage: "handshake", Err: err}
	}
	netConn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)

	if err := m.probe(client); err != nil {
		client.Close()
		return nil, &ConnectivityError{Host: addr, Stage: "probe", Err: err}
	}

	sess := &Session{client: client, mgr: m}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		client.Close()
		return nil, &ConnectivityError{Host: addr, Stage: "dial", Err: fmt.Errorf("session manager closed")}
	}
	m.sessions[sess] = struct{}{}
	m.mu.Unlock()

	return sess, nil
}

// probe runs the health-check command on a throwaway exec channel with its
// own bounded timeout. The session is healthy only if the command output
// matches the expected literal and the channel reports clean closure.
func (m *Manager) probe(client *ssh.Client) error {
	sshSess, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("open probe channel: %w", err)
	}
	defer sshSess.Close()

	type probeResult struct {
		out []byte
		err error
	}
	done := make(chan probeResult, 1)
	go func() {
		out, err := sshSess.Output(probeCommand)
		done <- probeResult{out: out, err: err}
	}()

	timer := time.NewTimer(m.ProbeTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("probe command: %w", res.err)
		}
		if got := strings.TrimSpace(string(res.out)); got != probeExpect {
			return fmt.Errorf("probe output %q, want %q", got, probeExpect)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("probe timed out after %s", m.ProbeTimeout)
	}
}

// forget removes a session from the outstanding set.
func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s)
	m.mu.Unlock()
}

// Close shuts the manager down and releases any outstanding sessions.
// Idempotent; subsequent OpenSession calls fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	outstanding := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		outstanding = append(outstanding, s)
	}
	m.sessions = make(map[*Session]struct{})
	m.mu.Unlock()

	var firstErr error
	for _, s := range outstanding {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
