package drivers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/models"
	"golang.org/x/crypto/ssh"
)

// SSHDriverConfig tunes the command execution driver
type SSHDriverConfig struct {
	DialTimeout time.Duration
}

// SSHDriver executes typed operations over ssh. Per-device failures come
// back as structured outcomes; an error return would mean a programming
// mistake, so there is none in the signature.
type SSHDriver struct {
	config SSHDriverConfig
	logger arbor.ILogger
}

// NewSSHDriver creates an ssh command driver
func NewSSHDriver(config SSHDriverConfig, logger arbor.ILogger) *SSHDriver {
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	return &SSHDriver{
		config: config,
		logger: logger,
	}
}

// Execute runs one operation on one device and classifies the result
func (d *SSHDriver) Execute(ctx context.Context, device *models.DeviceRef, cred *models.DeviceCredential, op models.Operation, timeout time.Duration) models.Outcome {
	start := time.Now()
	outcome := models.Outcome{
		DeviceID:   device.ID,
		DeviceName: device.Name,
	}

	commands, err := commandsFor(op)
	if err != nil {
		outcome.Kind = models.OutcomeCommand
		outcome.Error = err.Error()
		outcome.Duration = time.Since(start)
		return outcome
	}

	client, err := Dial(ctx, device, cred, d.config.DialTimeout)
	if err != nil {
		outcome.Kind = classifyDialError(ctx, err)
		outcome.Error = err.Error()
		outcome.Duration = time.Since(start)
		return outcome
	}
	defer client.Close()

	var output strings.Builder
	for _, command := range commands {
		out, err := d.runCommand(ctx, client, command)
		output.WriteString(out)
		if err != nil {
			outcome.Kind = classifyCommandError(ctx, err)
			outcome.Error = fmt.Sprintf("%s: %v", command, err)
			outcome.Output = output.String()
			outcome.Duration = time.Since(start)
			return outcome
		}
	}

	outcome.Kind = models.OutcomeOK
	outcome.Output = output.String()
	outcome.Duration = time.Since(start)
	return outcome
}

// runCommand executes one command in its own session, closing the session
// if the context dies mid-command
func (d *SSHDriver) runCommand(ctx context.Context, client *ssh.Client, command string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("session open failed: %w", err)
	}
	defer session.Close()

	type result struct {
		output []byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(command)
		done <- result{output: out, err: err}
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return "", ctx.Err()
	case res := <-done:
		return string(res.output), res.err
	}
}

// commandsFor expands an operation into the commands sent to the device.
// Explicit command lists pass through; typed operations expand to their
// platform-neutral equivalents.
func commandsFor(op models.Operation) ([]string, error) {
	if len(op.Commands) > 0 {
		return op.Commands, nil
	}

	switch op.Kind {
	case models.OpBackupConfig:
		return []string{"show running-config"}, nil

	case models.OpDeployConfig:
		var p struct {
			Config string `json:"config"`
		}
		if err := json.Unmarshal(op.Body, &p); err != nil || p.Config == "" {
			return nil, fmt.Errorf("deploy operation requires config body")
		}
		commands := []string{"configure terminal"}
		commands = append(commands, strings.Split(strings.TrimSpace(p.Config), "\n")...)
		commands = append(commands, "end", "write memory")
		return commands, nil

	case models.OpRollback:
		var p struct {
			SnapshotID string `json:"snapshot_id"`
		}
		if err := json.Unmarshal(op.Body, &p); err != nil || p.SnapshotID == "" {
			return nil, fmt.Errorf("rollback operation requires snapshot_id")
		}
		return []string{fmt.Sprintf("configure replace flash:%s force", p.SnapshotID)}, nil

	case models.OpCompliance:
		var p struct {
			Rules []string `json:"rules"`
		}
		if err := json.Unmarshal(op.Body, &p); err != nil || len(p.Rules) == 0 {
			return nil, fmt.Errorf("compliance operation requires rules")
		}
		return p.Rules, nil
	}

	return nil, fmt.Errorf("operation %s has no commands", op.Kind)
}

func classifyDialError(ctx context.Context, err error) models.OutcomeKind {
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return models.OutcomeTimeout
	case ctx.Err() == context.Canceled:
		return models.OutcomeCancelled
	case IsAuthError(err):
		return models.OutcomeAuthFailed
	default:
		return models.OutcomeUnreachable
	}
}

func classifyCommandError(ctx context.Context, err error) models.OutcomeKind {
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return models.OutcomeTimeout
	case ctx.Err() == context.Canceled:
		return models.OutcomeCancelled
	default:
		return models.OutcomeCommand
	}
}
