package badger

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	logger := arbor.NewLogger()
	manager, err := NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	t.Cleanup(func() {
		if err := manager.Close(); err != nil {
			t.Errorf("Failed to close storage: %v", err)
		}
	})
	return manager
}

func TestJobSaveAndGet(t *testing.T) {
	manager := newTestManager(t)
	storage := manager.JobStorage()
	ctx := context.Background()

	job := models.NewJob("acme", "run_commands", nil, json.RawMessage(`{"commands":["show version"]}`))
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}

	got, err := storage.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if got.TenantID != "acme" || got.Type != "run_commands" {
		t.Errorf("Job round trip mismatch: got tenant=%s type=%s", got.TenantID, got.Type)
	}
	if got.Status != models.JobStatusQueued {
		t.Errorf("New job should be queued, got %s", got.Status)
	}
}

func TestGetJobNotFound(t *testing.T) {
	manager := newTestManager(t)

	_, err := manager.JobStorage().GetJob(context.Background(), "job_missing")
	if err == nil {
		t.Fatal("Expected error for missing job")
	}
}

func TestCompareAndSwapStatus(t *testing.T) {
	manager := newTestManager(t)
	storage := manager.JobStorage()
	ctx := context.Background()

	job := models.NewJob("acme", "run_commands", nil, nil)
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	swapped, err := storage.CompareAndSwapStatus(ctx, job.ID, models.JobStatusQueued, models.JobStatusRunning, func(j *models.Job) {
		j.StartedAt = &now
	})
	if err != nil {
		t.Fatalf("CAS failed: %v", err)
	}
	if !swapped {
		t.Fatal("Expected CAS to succeed from queued")
	}

	// Second swap from queued must fail, the job is running now
	swapped, err = storage.CompareAndSwapStatus(ctx, job.ID, models.JobStatusQueued, models.JobStatusRunning, nil)
	if err != nil {
		t.Fatalf("CAS returned error on status mismatch: %v", err)
	}
	if swapped {
		t.Fatal("CAS from stale status should report false")
	}

	got, err := storage.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobStatusRunning {
		t.Errorf("Expected running, got %s", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("Mutate func should have set StartedAt")
	}
}

func TestCompareAndSwapClaimRace(t *testing.T) {
	manager := newTestManager(t)
	storage := manager.JobStorage()
	ctx := context.Background()

	job := models.NewJob("acme", "run_commands", nil, nil)
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	const contenders = 10
	var wg sync.WaitGroup
	wins := make(chan bool, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			swapped, err := storage.CompareAndSwapStatus(ctx, job.ID, models.JobStatusQueued, models.JobStatusRunning, nil)
			if err != nil {
				t.Errorf("CAS error: %v", err)
				return
			}
			wins <- swapped
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("Expected exactly 1 claim winner, got %d", winners)
	}
}

func TestListJobsFilters(t *testing.T) {
	manager := newTestManager(t)
	storage := manager.JobStorage()
	ctx := context.Background()

	for _, tc := range []struct {
		tenant string
		typ    string
	}{
		{"acme", "run_commands"},
		{"acme", "backup_config"},
		{"globex", "run_commands"},
	} {
		job := models.NewJob(tc.tenant, tc.typ, nil, nil)
		if err := storage.SaveJob(ctx, job); err != nil {
			t.Fatal(err)
		}
	}

	acme, err := storage.ListJobs(ctx, &interfaces.JobListOptions{TenantID: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if len(acme) != 2 {
		t.Errorf("Expected 2 acme jobs, got %d", len(acme))
	}

	backups, err := storage.ListJobs(ctx, &interfaces.JobListOptions{TenantID: "acme", Type: "backup_config"})
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 1 {
		t.Errorf("Expected 1 acme backup job, got %d", len(backups))
	}

	queued, err := storage.ListJobs(ctx, &interfaces.JobListOptions{Status: "queued"})
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 3 {
		t.Errorf("Expected 3 queued jobs, got %d", len(queued))
	}
}

func TestGetStaleRunningJobs(t *testing.T) {
	manager := newTestManager(t)
	storage := manager.JobStorage()
	ctx := context.Background()

	stale := models.NewJob("acme", "run_commands", nil, nil)
	old := time.Now().Add(-30 * time.Minute)
	stale.Status = models.JobStatusRunning
	stale.StartedAt = &old
	stale.LastHeartbeat = &old
	if err := storage.SaveJob(ctx, stale); err != nil {
		t.Fatal(err)
	}

	fresh := models.NewJob("acme", "run_commands", nil, nil)
	now := time.Now()
	fresh.Status = models.JobStatusRunning
	fresh.StartedAt = &now
	fresh.LastHeartbeat = &now
	if err := storage.SaveJob(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	queued := models.NewJob("acme", "run_commands", nil, nil)
	if err := storage.SaveJob(ctx, queued); err != nil {
		t.Fatal(err)
	}

	got, err := storage.GetStaleRunningJobs(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 stale job, got %d", len(got))
	}
	if got[0].ID != stale.ID {
		t.Errorf("Wrong stale job: %s", got[0].ID)
	}
}

func TestUpdateJobHeartbeat(t *testing.T) {
	manager := newTestManager(t)
	storage := manager.JobStorage()
	ctx := context.Background()

	job := models.NewJob("acme", "run_commands", nil, nil)
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	if err := storage.UpdateJobHeartbeat(ctx, job.ID); err != nil {
		t.Fatalf("Heartbeat update failed: %v", err)
	}

	got, err := storage.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastHeartbeat == nil {
		t.Error("Heartbeat should be set")
	}
}

func TestCountJobsByStatus(t *testing.T) {
	manager := newTestManager(t)
	storage := manager.JobStorage()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		job := models.NewJob("acme", "run_commands", nil, nil)
		if err := storage.SaveJob(ctx, job); err != nil {
			t.Fatal(err)
		}
	}

	count, err := storage.CountJobsByStatus(ctx, models.JobStatusQueued)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("Expected 3 queued jobs, got %d", count)
	}

	count, err = storage.CountJobsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Expected 0 running jobs, got %d", count)
	}
}
