// Package remote runs commands and streams file content on remote hosts
// over SSH sessions obtained from sshclient.
//
// Every call opens a fresh session, so a failure in one command cannot
// leak state into the next. Commands are POSIX find/cat invocations with
// all interpolated paths and patterns shell-quoted.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"logharvest/internal/sshclient"
)

// ProtocolError reports a remote command that exited non-zero or whose
// channel did not close within the command timeout. Stderr captures the
// remote diagnostics.
type ProtocolError struct {
	Command  string
	ExitCode int // -1 when the wait timed out or the exit status is unknown
	Stderr   string
	Err      error
}

func (e *ProtocolError) Error() string {
	label := e.Command
	if len(label) > 80 {
		label = label[:80] + "..."
	}
	if e.Err != nil {
		return fmt.Sprintf("remote command %q: %v", label, e.Err)
	}
	return fmt.Sprintf("remote command %q: exit %d: %s", label, e.ExitCode, strings.TrimSpace(e.Stderr))
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Executor runs commands over single-use SSH sessions.
type Executor struct {
	Sessions       *sshclient.Manager
	CommandTimeout time.Duration
}

// NewExecutor creates an Executor on top of the given session manager.
func NewExecutor(sessions *sshclient.Manager, commandTimeout time.Duration) *Executor {
	return &Executor{Sessions: sessions, CommandTimeout: commandTimeout}
}

// ExecuteCommand opens a fresh session, runs cmd, and returns its stdout.
// Stdout and stderr are drained concurrently so a full pipe buffer on
// either stream cannot deadlock the exchange. Waiting for channel closure
// is bounded by CommandTimeout; a non-zero exit is a ProtocolError carrying
// the captured stderr. A timed-out wait is also a ProtocolError, but with
// no captured output: the buffers stay live until the channel closes.
func (e *Executor) ExecuteCommand(ctx context.Context, target sshclient.Target, cmd string) (string, error) {
	sess, err := e.Sessions.OpenSession(ctx, target)
	if err != nil {
		return "", err
	}
	defer sess.Close()

	sshSess, err := sess.Client().NewSession()
	if err != nil {
		return "", fmt.Errorf("open exec channel: %w", err)
	}
	defer sshSess.Close()

	// Assigning both writers makes the SSH library pump stdout and stderr
	// on separate goroutines for the lifetime of the command.
	var outBuf, errBuf bytes.Buffer
	sshSess.Stdout = &outBuf
	sshSess.Stderr = &errBuf

	if err := sshSess.Start(cmd); err != nil {
		return "", fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- sshSess.Wait()
	}()

	timer := time.NewTimer(e.CommandTimeout)
	defer timer.Stop()

	select {
	case waitErr := <-done:
		if waitErr != nil {
			if exitErr, ok := waitErr.(*ssh.ExitError); ok {
				return outBuf.String(), &ProtocolError{
					Command:  cmd,
					ExitCode: exitErr.ExitStatus(),
					Stderr:   errBuf.String(),
				}
			}
			return outBuf.String(), &ProtocolError{Command: cmd, ExitCode: -1, Stderr: errBuf.String(), Err: waitErr}
		}
		return outBuf.String(), nil
	case <-timer.C:
		sshSess.Close()
		// The copy goroutines may still be writing the buffers after an
		// abandoned wait; their contents are off limits.
		return "", &ProtocolError{
			Command:  cmd,
			ExitCode: -1,
			Err:      fmt.Errorf("wait timed out after %s", e.CommandTimeout),
		}
	case <-ctx.Done():
		sshSess.Close()
		return "", &ProtocolError{Command: cmd, ExitCode: -1, Err: ctx.Err()}
	}
}

// shellQuote wraps a string in single quotes, escaping any embedded single
// quotes. All remote paths and patterns must pass through here.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}
