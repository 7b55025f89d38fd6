package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/drivers"
	"github.com/ternarybob/relay/internal/models"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/time/rate"
)

var (
	// ErrCommandInFlight is returned when a command arrives while another
	// is still executing. Interactive sessions run one command at a time.
	ErrCommandInFlight = errors.New("command already in flight")

	// ErrSessionClosed is returned for commands against a closed session
	ErrSessionClosed = errors.New("session closed")
)

// Config tunes interactive sessions
type Config struct {
	DialTimeout       time.Duration
	CommandTimeout    time.Duration
	KeepaliveInterval time.Duration
	IdleTimeout       time.Duration
	CommandsPerSecond float64 // 0 disables throttling
}

// CommandResult is the outcome of one interactive command
type CommandResult struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// Session is one interactive device connection. State runs
// connecting -> authenticated -> active -> closed and never goes back.
type Session struct {
	ID     string
	Device *models.DeviceRef

	client  *gossh.Client
	config  Config
	limiter *rate.Limiter
	logger  arbor.ILogger

	mu         sync.Mutex
	state      models.SessionState
	inFlight   bool
	lastActive time.Time

	closed    chan struct{}
	closeOnce sync.Once
}

// Open dials the device and brings the session to active. The caller has
// already validated device ownership and credential presence.
func Open(ctx context.Context, device *models.DeviceRef, cred *models.DeviceCredential, config Config, logger arbor.ILogger) (*Session, error) {
	s := &Session{
		ID:         common.NewSessionID(),
		Device:     device,
		config:     config,
		logger:     logger,
		state:      models.SessionConnecting,
		lastActive: time.Now(),
		closed:     make(chan struct{}),
	}

	if config.CommandsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(config.CommandsPerSecond), 1)
	}

	client, err := drivers.Dial(ctx, device, cred, config.DialTimeout)
	if err != nil {
		s.setState(models.SessionClosed)
		return nil, err
	}
	s.client = client
	s.setState(models.SessionAuthenticated)

	go s.watchdog()
	s.setState(models.SessionActive)

	logger.Info().
		Str("session_id", s.ID).
		Str("device_id", device.ID).
		Msg("Interactive session opened")

	return s, nil
}

// State returns the current lifecycle state
func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session ends, however it ends
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Run executes one command. Only one command may be in flight; a second
// concurrent call fails immediately with ErrCommandInFlight instead of
// queueing silently.
func (s *Session) Run(ctx context.Context, command string) (*CommandResult, error) {
	s.mu.Lock()
	if s.state != models.SessionActive {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrCommandInFlight
	}
	s.inFlight = true
	s.lastActive = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.lastActive = time.Now()
		s.mu.Unlock()
	}()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if s.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.CommandTimeout)
		defer cancel()
	}

	session, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("session open failed: %w", err)
	}
	defer session.Close()

	// Streams stay separate so the output frame can carry them apart
	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return nil, ctx.Err()
	case <-s.closed:
		return nil, ErrSessionClosed
	case err := <-done:
		return commandResult(stdout.Bytes(), stderr.Bytes(), err)
	}
}

// commandResult maps a finished command to its result. A non-zero exit
// is data for the caller, not a transport failure.
func commandResult(stdout, stderr []byte, err error) (*CommandResult, error) {
	result := &CommandResult{Stdout: string(stdout), Stderr: string(stderr)}
	if err != nil {
		var exitErr *gossh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitStatus = exitErr.ExitStatus()
			return result, nil
		}
		return nil, err
	}
	return result, nil
}

// Close terminates the session. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.setState(models.SessionClosed)
		close(s.closed)
		if s.client != nil {
			s.client.Close()
		}
		s.logger.Info().
			Str("session_id", s.ID).
			Str("device_id", s.Device.ID).
			Msg("Interactive session closed")
	})
}

func (s *Session) setState(state models.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// watchdog probes the transport and enforces the idle timeout
func (s *Session) watchdog() {
	interval := s.config.KeepaliveInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			if s.config.IdleTimeout > 0 {
				s.mu.Lock()
				idle := time.Since(s.lastActive)
				busy := s.inFlight
				s.mu.Unlock()
				if !busy && idle > s.config.IdleTimeout {
					s.logger.Info().
						Str("session_id", s.ID).
						Msg("Closing idle session")
					s.Close()
					return
				}
			}

			// Half-open connections fail here, not on the next command
			if _, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				s.logger.Warn().
					Err(err).
					Str("session_id", s.ID).
					Msg("Keepalive failed, closing session")
				s.Close()
				return
			}
		}
	}
}
