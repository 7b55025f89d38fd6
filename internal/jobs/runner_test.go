package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
	storage "github.com/ternarybob/relay/internal/storage/badger"
)

// fakeResolver returns a fixed device list
type fakeResolver struct {
	devices []*models.DeviceRef
	err     error
	panics  bool
}

func (r *fakeResolver) Resolve(ctx context.Context, tenantID string, filter json.RawMessage) ([]*models.DeviceRef, error) {
	if r.panics {
		panic("resolver blew up")
	}
	return r.devices, r.err
}

// fakeCreds hands out a static credential
type fakeCreds struct {
	err error
}

func (c *fakeCreds) CredentialFor(ctx context.Context, device *models.DeviceRef) (*models.DeviceCredential, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &models.DeviceCredential{ID: "cred_1", Username: "admin", Password: "secret"}, nil
}

// fakeDriver runs a per-test execute func and counts calls
type fakeDriver struct {
	execute func(ctx context.Context, device *models.DeviceRef) models.Outcome
	calls   atomic.Int64
}

func (d *fakeDriver) Execute(ctx context.Context, device *models.DeviceRef, cred *models.DeviceCredential, op models.Operation, timeout time.Duration) models.Outcome {
	d.calls.Add(1)
	if d.execute != nil {
		return d.execute(ctx, device)
	}
	return models.Outcome{DeviceID: device.ID, DeviceName: device.Name, Kind: models.OutcomeOK}
}

type runnerFixture struct {
	service  *Service
	runner   *Runner
	driver   *fakeDriver
	resolver *fakeResolver
	cancels  *Cancellations
}

func newRunnerFixture(t *testing.T, devices []*models.DeviceRef) *runnerFixture {
	return newRunnerFixtureConfig(t, devices, RunnerConfig{
		FanOutLimit:   4,
		TargetTimeout: 5 * time.Second,
	})
}

func newRunnerFixtureConfig(t *testing.T, devices []*models.DeviceRef, config RunnerConfig) *runnerFixture {
	t.Helper()

	logger := arbor.NewLogger()
	manager, err := storage.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	t.Cleanup(func() { manager.Close() })

	registry := NewRegistry()
	RegisterBuiltinHandlers(registry)

	queue := &fakeQueue{}
	cancels := NewCancellations()
	service := NewService(manager.JobStorage(), manager.JobLogStorage(), queue, &fakeFanout{}, registry, cancels, logger)

	resolver := &fakeResolver{devices: devices}
	driver := &fakeDriver{}

	runner := NewRunner(service, registry, resolver, &fakeCreds{}, driver, queue, cancels, config, logger)

	return &runnerFixture{service: service, runner: runner, driver: driver, resolver: resolver, cancels: cancels}
}

func testDevices(n int) []*models.DeviceRef {
	devices := make([]*models.DeviceRef, n)
	for i := range devices {
		devices[i] = &models.DeviceRef{
			ID:       fmt.Sprintf("dev_%d", i+1),
			TenantID: "acme",
			Name:     fmt.Sprintf("sw-%d", i+1),
			Address:  fmt.Sprintf("10.0.0.%d", i+1),
			AuthID:   "cred_1",
		}
	}
	return devices
}

func dispatchJob(t *testing.T, f *runnerFixture, jobID string) int {
	t.Helper()

	acks := 0
	delivery := &interfaces.Delivery{
		ID:       "msg_1",
		Envelope: &models.Envelope{JobID: jobID, Type: "run_commands"},
		Ack:      func() error { acks++; return nil },
	}
	if err := f.runner.Dispatch(context.Background(), delivery); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	return acks
}

func createJob(t *testing.T, f *runnerFixture) *models.Job {
	t.Helper()

	job, err := f.service.Create(context.Background(), "acme", "run_commands", nil, runCommandsPayloadJSON())
	if err != nil {
		t.Fatal(err)
	}
	return job
}

func TestDispatchAllTargetsSucceed(t *testing.T) {
	f := newRunnerFixture(t, testDevices(3))
	job := createJob(t, f)

	acks := dispatchJob(t, f, job.ID)
	if acks != 1 {
		t.Errorf("Expected 1 ack, got %d", acks)
	}

	got, err := f.service.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobStatusSuccess {
		t.Errorf("Expected success, got %s", got.Status)
	}
	if got.Result == nil || got.Result.Succeeded != 3 || got.Result.Failed != 0 {
		t.Errorf("Unexpected result: %+v", got.Result)
	}
	if f.driver.calls.Load() != 3 {
		t.Errorf("Expected 3 driver calls, got %d", f.driver.calls.Load())
	}
}

func TestDispatchPartialFailure(t *testing.T) {
	f := newRunnerFixture(t, testDevices(3))
	f.driver.execute = func(ctx context.Context, device *models.DeviceRef) models.Outcome {
		if device.ID == "dev_2" {
			return models.Outcome{DeviceID: device.ID, DeviceName: device.Name, Kind: models.OutcomeUnreachable, Error: "dial tcp: timeout"}
		}
		return models.Outcome{DeviceID: device.ID, DeviceName: device.Name, Kind: models.OutcomeOK}
	}

	job := createJob(t, f)
	dispatchJob(t, f, job.ID)

	ctx := context.Background()
	got, err := f.service.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobStatusPartial {
		t.Errorf("Expected partial, got %s", got.Status)
	}
	if got.Result.Succeeded != 2 || got.Result.Failed != 1 {
		t.Errorf("Unexpected result: %+v", got.Result)
	}

	// The summary names the failed device
	var failed []string
	for _, target := range got.Result.Targets {
		if !target.OK {
			failed = append(failed, target.DeviceID)
		}
	}
	if len(failed) != 1 || failed[0] != "dev_2" {
		t.Errorf("Summary should name dev_2 as the failed target, got %v", failed)
	}

	// One completion line per target, the failed one at error severity
	entries, err := f.service.GetLogs(ctx, job.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	completions := 0
	sawFailureLine := false
	for _, entry := range entries {
		if strings.Contains(entry.Message, ": done in ") {
			completions++
		}
		if strings.HasPrefix(entry.Message, "sw-2: unreachable:") && entry.Severity == models.SeverityError {
			completions++
			sawFailureLine = true
		}
	}
	if completions != 3 {
		t.Errorf("Expected a completion line per target, got %d", completions)
	}
	if !sawFailureLine {
		t.Error("Failed target should log its error")
	}
}

func TestDispatchAllTargetsFail(t *testing.T) {
	f := newRunnerFixture(t, testDevices(2))
	f.driver.execute = func(ctx context.Context, device *models.DeviceRef) models.Outcome {
		return models.Outcome{DeviceID: device.ID, Kind: models.OutcomeAuthFailed, Error: "permission denied"}
	}

	job := createJob(t, f)
	dispatchJob(t, f, job.ID)

	got, err := f.service.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobStatusFailed {
		t.Errorf("Expected failed, got %s", got.Status)
	}
}

func TestDispatchEmptyTargetSet(t *testing.T) {
	f := newRunnerFixture(t, nil)
	job := createJob(t, f)

	dispatchJob(t, f, job.ID)

	got, err := f.service.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobStatusSuccess {
		t.Errorf("Empty target set should succeed, got %s", got.Status)
	}
	if f.driver.calls.Load() != 0 {
		t.Error("Driver must not run with no targets")
	}
}

func TestDispatchPanicBecomesFailed(t *testing.T) {
	f := newRunnerFixture(t, testDevices(1))
	f.resolver.panics = true

	job := createJob(t, f)
	dispatchJob(t, f, job.ID)

	got, err := f.service.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobStatusFailed {
		t.Errorf("Panic should finalize the job as failed, got %s", got.Status)
	}
	if got.Result == nil || got.Result.Error == "" {
		t.Error("Failed result should carry the error")
	}
}

func TestDispatchDuplicateEnvelopeDiscarded(t *testing.T) {
	f := newRunnerFixture(t, testDevices(1))
	job := createJob(t, f)

	dispatchJob(t, f, job.ID)
	before := f.driver.calls.Load()

	// At-least-once delivery: the same envelope arrives again after the
	// job finished, it must be acked without re-executing anything
	acks := dispatchJob(t, f, job.ID)
	if acks != 1 {
		t.Errorf("Duplicate envelope should still be acked, got %d", acks)
	}
	if f.driver.calls.Load() != before {
		t.Error("Duplicate envelope must not re-run the job")
	}
}

func TestDispatchMissingJobDiscarded(t *testing.T) {
	f := newRunnerFixture(t, testDevices(1))

	acks := dispatchJob(t, f, "job_missing")
	if acks != 1 {
		t.Errorf("Envelope for a missing job should be acked, got %d", acks)
	}
	if f.driver.calls.Load() != 0 {
		t.Error("Driver must not run for a missing job")
	}
}

func TestDispatchClaimLostDiscarded(t *testing.T) {
	f := newRunnerFixture(t, testDevices(1))
	job := createJob(t, f)

	// Another worker already holds the claim
	if _, err := f.service.Claim(context.Background(), job.ID); err != nil {
		t.Fatal(err)
	}

	acks := dispatchJob(t, f, job.ID)
	if acks != 1 {
		t.Errorf("Loser envelope should be acked, got %d", acks)
	}
	if f.driver.calls.Load() != 0 {
		t.Error("Claim loser must not execute")
	}
}

func TestDispatchCancelMidJob(t *testing.T) {
	// One target at a time so the cancel lands between targets
	f := newRunnerFixtureConfig(t, testDevices(5), RunnerConfig{
		FanOutLimit:   1,
		TargetTimeout: 5 * time.Second,
	})

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var interrupted atomic.Bool
	f.driver.execute = func(ctx context.Context, device *models.DeviceRef) models.Outcome {
		once.Do(func() { close(started) })
		<-release
		if ctx.Err() != nil {
			interrupted.Store(true)
		}
		return models.Outcome{DeviceID: device.ID, DeviceName: device.Name, Kind: models.OutcomeOK}
	}

	job := createJob(t, f)

	done := make(chan error, 1)
	go func() {
		delivery := &interfaces.Delivery{
			ID:       "msg_1",
			Envelope: &models.Envelope{JobID: job.ID, Type: "run_commands"},
			Ack:      func() error { return nil },
		}
		done <- f.runner.Dispatch(context.Background(), delivery)
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("Driver never started")
	}

	ctx := context.Background()
	if err := f.service.Cancel(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	close(release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Dispatch did not finish after cancel")
	}

	got, err := f.service.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobStatusCancelled {
		t.Errorf("Expected cancelled, got %s", got.Status)
	}

	// Cancel is cooperative: the target already in flight runs to
	// completion, the remaining four never start
	if interrupted.Load() {
		t.Error("In-flight target must not be interrupted by cancel")
	}
	if calls := f.driver.calls.Load(); calls != 1 {
		t.Errorf("Targets after the cancel must not start, got %d driver calls", calls)
	}

	var completed, skipped int
	for _, target := range got.Result.Targets {
		switch {
		case target.OK:
			completed++
		case target.Error == "job cancelled before execution":
			skipped++
		}
	}
	if completed != 1 || skipped != 4 {
		t.Errorf("Expected 1 completed and 4 skipped targets, got %d/%d", completed, skipped)
	}

	// No per-target lines for targets that never started
	entries, err := f.service.GetLogs(ctx, job.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		for _, name := range []string{"sw-2", "sw-3", "sw-4", "sw-5"} {
			if strings.Contains(entry.Message, name) {
				t.Errorf("Unexpected line for unstarted target: %s", entry.Message)
			}
		}
	}
}

func TestDispatchJobCeilingForcesFailed(t *testing.T) {
	f := newRunnerFixtureConfig(t, testDevices(3), RunnerConfig{
		FanOutLimit:   1,
		TargetTimeout: 5 * time.Second,
		JobTimeout:    60 * time.Millisecond,
	})
	f.driver.execute = func(ctx context.Context, device *models.DeviceRef) models.Outcome {
		<-ctx.Done()
		return models.Outcome{DeviceID: device.ID, DeviceName: device.Name, Kind: models.OutcomeTimeout, Error: ctx.Err().Error()}
	}

	job := createJob(t, f)
	dispatchJob(t, f, job.ID)

	got, err := f.service.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobStatusFailed {
		t.Errorf("Exceeded job ceiling must force failed, got %s", got.Status)
	}
	if got.Result == nil || got.Result.Error == "" {
		t.Error("Ceiling failure should record why")
	}
}

func TestDispatchTargetResolutionFailure(t *testing.T) {
	f := newRunnerFixture(t, nil)
	f.resolver.err = errors.New("device not found: dev_9")

	job := createJob(t, f)
	dispatchJob(t, f, job.ID)

	got, err := f.service.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobStatusFailed {
		t.Errorf("Resolution failure should fail the job, got %s", got.Status)
	}
}
