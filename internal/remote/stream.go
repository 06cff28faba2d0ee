package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"logharvest/internal/sshclient"
)

// contentStream is a lazily-consumed remote file stream. Once the reader is
// drained the remote exit status is collected: a cat that failed or died
// mid-transfer surfaces as a ProtocolError, never as a clean EOF. Closing
// the stream closes the exec channel and the owning session exactly once.
type contentStream struct {
	reader  io.Reader
	sshSess *ssh.Session
	session *sshclient.Session
	cmd     string
	stderr  *bytes.Buffer
	timeout time.Duration

	eof       bool
	closeOnce sync.Once
	waitOnce  sync.Once
	waitErr   error
}

func (cs *contentStream) Read(p []byte) (int, error) {
	n, err := cs.reader.Read(p)
	if err == io.EOF {
		cs.eof = true
		if waitErr := cs.wait(); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

// wait collects the remote exit status, bounded by the command timeout.
func (cs *contentStream) wait() error {
	cs.waitOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- cs.sshSess.Wait() }()

		timer := time.NewTimer(cs.timeout)
		defer timer.Stop()

		select {
		case err := <-done:
			if err == nil {
				return
			}
			if exitErr, ok := err.(*ssh.ExitError); ok {
				cs.waitErr = &ProtocolError{
					Command:  cs.cmd,
					ExitCode: exitErr.ExitStatus(),
					Stderr:   cs.stderr.String(),
				}
				return
			}
			cs.waitErr = &ProtocolError{Command: cs.cmd, ExitCode: -1, Stderr: cs.stderr.String(), Err: err}
		case <-timer.C:
			// The stderr buffer may still be written by the ssh library
			// after an abandoned wait; leave it unread.
			cs.waitErr = &ProtocolError{
				Command:  cs.cmd,
				ExitCode: -1,
				Err:      fmt.Errorf("wait timed out after %s", cs.timeout),
			}
		}
	})
	return cs.waitErr
}

func (cs *contentStream) Close() error {
	var err error
	cs.closeOnce.Do(func() {
		var waitErr error
		if cs.eof {
			waitErr = cs.wait()
		}
		chanErr := cs.sshSess.Close()
		sessErr := cs.session.Close()
		switch {
		case waitErr != nil:
			err = waitErr
		case chanErr != nil && chanErr != io.EOF:
			err = chanErr
		case sessErr != nil:
			err = sessErr
		}
	})
	return err
}

// OpenFileContent opens a remote read-only stream over the file at path
// using cat on a fresh session. The caller must close the returned stream;
// logs can be large and are never buffered whole. A remote failure is
// reported from Read at EOF and again from Close.
func (e *Executor) OpenFileContent(ctx context.Context, target sshclient.Target, path string) (io.ReadCloser, error) {
	sess, err := e.Sessions.OpenSession(ctx, target)
	if err != nil {
		return nil, err
	}

	sshSess, err := sess.Client().NewSession()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("open exec channel: %w", err)
	}

	var errBuf bytes.Buffer
	sshSess.Stderr = &errBuf

	stdout, err := sshSess.StdoutPipe()
	if err != nil {
		sshSess.Close()
		sess.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	cmd := "cat " + shellQuote(path)
	if err := sshSess.Start(cmd); err != nil {
		sshSess.Close()
		sess.Close()
		return nil, fmt.Errorf("start cat %s: %w", path, err)
	}

	return &contentStream{
		reader:  stdout,
		sshSess: sshSess,
		session: sess,
		cmd:     cmd,
		stderr:  &errBuf,
		timeout: e.CommandTimeout,
	}, nil
}
