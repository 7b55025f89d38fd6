package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/relay/internal/models"
)

var validate = validator.New()

// RegisterBuiltinHandlers wires the built-in job types into the registry
func RegisterBuiltinHandlers(r *Registry) {
	r.Register(&RunCommandsHandler{})
	r.Register(&BackupConfigHandler{})
	r.Register(&DeployConfigHandler{})
	r.Register(&RollbackConfigHandler{})
	r.Register(&ComplianceCheckHandler{})
	r.Register(&PlaybookHandler{})
	r.Register(&RemediationHandler{})
}

func decodePayload(payload json.RawMessage, into interface{}) error {
	if len(payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if err := json.Unmarshal(payload, into); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := validate.Struct(into); err != nil {
		return fmt.Errorf("payload validation failed: %w", err)
	}
	return nil
}

// RunCommandsHandler executes an ordered list of commands on each target
type RunCommandsHandler struct{}

type runCommandsPayload struct {
	Commands []string `json:"commands" validate:"required,min=1,dive,required"`
}

func (h *RunCommandsHandler) Type() string { return string(models.OpRunCommands) }

func (h *RunCommandsHandler) BuildOperation(payload json.RawMessage) (models.Operation, error) {
	var p runCommandsPayload
	if err := decodePayload(payload, &p); err != nil {
		return models.Operation{}, err
	}
	return models.Operation{
		Kind:     models.OpRunCommands,
		Commands: p.Commands,
	}, nil
}

// BackupConfigHandler captures the running configuration of each target
type BackupConfigHandler struct{}

type backupConfigPayload struct {
	// Label tags the captured snapshot, defaults to the job ID downstream
	Label string `json:"label,omitempty"`
}

func (h *BackupConfigHandler) Type() string { return string(models.OpBackupConfig) }

func (h *BackupConfigHandler) BuildOperation(payload json.RawMessage) (models.Operation, error) {
	var p backupConfigPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return models.Operation{}, fmt.Errorf("invalid payload: %w", err)
		}
	}
	body, _ := json.Marshal(p)
	return models.Operation{
		Kind: models.OpBackupConfig,
		Body: body,
	}, nil
}

// DeployConfigHandler pushes a configuration blob to each target
type DeployConfigHandler struct{}

type deployConfigPayload struct {
	Config string `json:"config" validate:"required"`
	DryRun bool   `json:"dry_run,omitempty"`
}

func (h *DeployConfigHandler) Type() string { return string(models.OpDeployConfig) }

func (h *DeployConfigHandler) BuildOperation(payload json.RawMessage) (models.Operation, error) {
	var p deployConfigPayload
	if err := decodePayload(payload, &p); err != nil {
		return models.Operation{}, err
	}
	return models.Operation{
		Kind: models.OpDeployConfig,
		Body: payload,
	}, nil
}

// RollbackConfigHandler restores a previously captured snapshot
type RollbackConfigHandler struct{}

type rollbackConfigPayload struct {
	SnapshotID string `json:"snapshot_id" validate:"required"`
}

func (h *RollbackConfigHandler) Type() string { return string(models.OpRollback) }

func (h *RollbackConfigHandler) BuildOperation(payload json.RawMessage) (models.Operation, error) {
	var p rollbackConfigPayload
	if err := decodePayload(payload, &p); err != nil {
		return models.Operation{}, err
	}
	return models.Operation{
		Kind: models.OpRollback,
		Body: payload,
	}, nil
}

// ComplianceCheckHandler runs read-only rule checks against each target
type ComplianceCheckHandler struct{}

type complianceCheckPayload struct {
	Rules []string `json:"rules" validate:"required,min=1,dive,required"`
}

func (h *ComplianceCheckHandler) Type() string { return string(models.OpCompliance) }

func (h *ComplianceCheckHandler) BuildOperation(payload json.RawMessage) (models.Operation, error) {
	var p complianceCheckPayload
	if err := decodePayload(payload, &p); err != nil {
		return models.Operation{}, err
	}
	return models.Operation{
		Kind: models.OpCompliance,
		Body: payload,
	}, nil
}

// PlaybookHandler runs a named multi-step command sequence
type PlaybookHandler struct{}

type playbookStep struct {
	Name     string   `json:"name" validate:"required"`
	Commands []string `json:"commands" validate:"required,min=1,dive,required"`
}

type playbookPayload struct {
	Name  string         `json:"name" validate:"required"`
	Steps []playbookStep `json:"steps" validate:"required,min=1,dive"`
}

func (h *PlaybookHandler) Type() string { return string(models.OpPlaybook) }

func (h *PlaybookHandler) BuildOperation(payload json.RawMessage) (models.Operation, error) {
	var p playbookPayload
	if err := decodePayload(payload, &p); err != nil {
		return models.Operation{}, err
	}

	// Flatten steps into one ordered command list, the driver runs them
	// sequentially and stops on the first failure
	var commands []string
	for _, step := range p.Steps {
		commands = append(commands, step.Commands...)
	}
	return models.Operation{
		Kind:     models.OpPlaybook,
		Commands: commands,
		Body:     payload,
	}, nil
}

// RemediationHandler applies corrective actions raised by a compliance run
type RemediationHandler struct{}

type remediationPayload struct {
	Check   string   `json:"check" validate:"required"`
	Actions []string `json:"actions" validate:"required,min=1,dive,required"`
}

func (h *RemediationHandler) Type() string { return string(models.OpRemediation) }

func (h *RemediationHandler) BuildOperation(payload json.RawMessage) (models.Operation, error) {
	var p remediationPayload
	if err := decodePayload(payload, &p); err != nil {
		return models.Operation{}, err
	}
	return models.Operation{
		Kind:     models.OpRemediation,
		Commands: p.Actions,
		Body:     payload,
	}, nil
}
