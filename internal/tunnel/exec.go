package tunnel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// handshake is the line the tunnel binary prints on stdout once a
// session is established, and again after each reconnect.
type handshake struct {
	PublicURL  string `json:"publicUrl"`
	InspectURL string `json:"inspectUrl,omitempty"`
	Error      string `json:"error,omitempty"`
}

// reconnectRequest is written to the binary's stdin to move the session
// to a new local port without restarting the process.
type reconnectRequest struct {
	Reconnect int `json:"reconnect"`
}

const handshakeTimeout = 30 * time.Second

// ExecLauncher spawns the configured tunnel binary and speaks its
// line-oriented stdio protocol.
type ExecLauncher struct{}

func (ExecLauncher) Launch(ctx context.Context, binaryPath string, port int) (Session, error) {
	cmd := exec.Command(binaryPath, "http", strconv.Itoa(port))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", binaryPath, err)
	}

	s := &execSession{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}
	hs, err := s.readHandshake(ctx)
	if err != nil {
		_ = s.Terminate()
		return nil, fmt.Errorf("tunnel handshake: %w", err)
	}

	s.publicURL = hs.PublicURL
	s.inspectURL = hs.InspectURL
	return s, nil
}

type execSession struct {
	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     *bufio.Reader
	publicURL  string
	inspectURL string
	terminated bool
}

func (s *execSession) PublicURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publicURL
}

func (s *execSession) InspectURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inspectURL
}

func (s *execSession) readHandshake(ctx context.Context) (handshake, error) {
	type result struct {
		hs  handshake
		err error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := s.stdout.ReadBytes('\n')
		if err != nil {
			ch <- result{err: err}
			return
		}
		var hs handshake
		if err := json.Unmarshal(line, &hs); err != nil {
			ch <- result{err: err}
			return
		}
		if hs.Error != "" {
			ch <- result{err: fmt.Errorf("%s", hs.Error)}
			return
		}
		if hs.PublicURL == "" {
			ch <- result{err: fmt.Errorf("handshake missing publicUrl")}
			return
		}
		ch <- result{hs: hs}
	}()

	select {
	case r := <-ch:
		return r.hs, r.err
	case <-ctx.Done():
		return handshake{}, ctx.Err()
	case <-time.After(handshakeTimeout):
		return handshake{}, fmt.Errorf("timed out after %s", handshakeTimeout)
	}
}

func (s *execSession) Reconnect(ctx context.Context, port int) error {
	req, err := json.Marshal(reconnectRequest{Reconnect: port})
	if err != nil {
		return err
	}
	req = append(req, '\n')

	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return fmt.Errorf("session terminated")
	}
	if _, err := s.stdin.Write(req); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	hs, err := s.readHandshake(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.publicURL = hs.PublicURL
	s.inspectURL = hs.InspectURL
	s.mu.Unlock()
	return nil
}

func (s *execSession) Terminate() error {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return nil
	}
	s.terminated = true
	s.mu.Unlock()

	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
	return nil
}
