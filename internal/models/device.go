// -----------------------------------------------------------------------
// Device - managed device references and driver operation types
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// DeviceRef identifies one managed device a job can target.
type DeviceRef struct {
	ID       string   `json:"id" badgerhold:"key"`
	TenantID string   `json:"tenant_id" badgerholdIndex:"TenantID"`
	Name     string   `json:"name"`
	Address  string   `json:"address"`
	Port     int      `json:"port"`
	Platform string   `json:"platform,omitempty"`
	AuthID   string   `json:"auth_id,omitempty"` // Credential reference, empty = none configured
	Tags     []string `json:"tags,omitempty"`
}

// Validate checks required device fields.
func (d *DeviceRef) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("device ID is required")
	}
	if d.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if d.Address == "" {
		return fmt.Errorf("device address is required")
	}
	return nil
}

// DeviceCredential holds transport credentials for a device.
// Stored separately from the device so inventory and secrets rotate independently.
type DeviceCredential struct {
	ID         string `json:"id" badgerhold:"key"`
	TenantID   string `json:"tenant_id"`
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"` // PEM-encoded, preferred over password
}

// OperationKind is the closed set of typed device operations.
type OperationKind string

const (
	OpRunCommands  OperationKind = "run_commands"
	OpBackupConfig OperationKind = "backup_config"
	OpDeployConfig OperationKind = "deploy_config"
	OpRollback     OperationKind = "rollback_config"
	OpCompliance   OperationKind = "compliance_check"
	OpPlaybook     OperationKind = "playbook"
	OpRemediation  OperationKind = "remediation"
)

// Operation is one typed unit of work a driver executes against one device.
type Operation struct {
	Kind     OperationKind   `json:"kind"`
	Commands []string        `json:"commands,omitempty"`
	Body     json.RawMessage `json:"body,omitempty"`
}

// OutcomeKind classifies a per-target driver failure.
type OutcomeKind string

const (
	OutcomeOK          OutcomeKind = "ok"
	OutcomeTimeout     OutcomeKind = "timeout"
	OutcomeAuthFailed  OutcomeKind = "auth_failed"
	OutcomeUnreachable OutcomeKind = "unreachable"
	OutcomeCommand     OutcomeKind = "command_failed"
	OutcomeCancelled   OutcomeKind = "cancelled"
)

// Outcome is the structured result of executing one operation on one device.
// Per-target failures are data, not errors - they fold into the aggregate.
type Outcome struct {
	DeviceID   string        `json:"device_id"`
	DeviceName string        `json:"device_name,omitempty"`
	Kind       OutcomeKind   `json:"kind"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// OK returns true when the operation succeeded on the device.
func (o Outcome) OK() bool {
	return o.Kind == OutcomeOK
}
