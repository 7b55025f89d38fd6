package badger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/models"
)

func TestAppendLogSequences(t *testing.T) {
	manager := newTestManager(t)
	storage := manager.JobLogStorage()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		entry, err := storage.AppendLog(ctx, "job_a", models.SeverityInfo, fmt.Sprintf("line %d", i))
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if entry.Sequence != uint64(i) {
			t.Errorf("Expected sequence %d, got %d", i, entry.Sequence)
		}
	}

	// Sequences are per job
	entry, err := storage.AppendLog(ctx, "job_b", models.SeverityInfo, "first")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Sequence != 1 {
		t.Errorf("Expected sequence 1 for new job, got %d", entry.Sequence)
	}
}

func TestAppendLogConcurrentNoGaps(t *testing.T) {
	manager := newTestManager(t)
	storage := manager.JobLogStorage()
	ctx := context.Background()

	const appends = 50
	var wg sync.WaitGroup
	for i := 0; i < appends; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := storage.AppendLog(ctx, "job_a", models.SeverityInfo, fmt.Sprintf("line %d", n)); err != nil {
				t.Errorf("Append failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	logs, err := storage.GetLogs(ctx, "job_a", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != appends {
		t.Fatalf("Expected %d lines, got %d", appends, len(logs))
	}
	for i, entry := range logs {
		if entry.Sequence != uint64(i+1) {
			t.Fatalf("Gap or reorder at index %d: sequence %d", i, entry.Sequence)
		}
	}
}

func TestGetLogsAfterSequence(t *testing.T) {
	manager := newTestManager(t)
	storage := manager.JobLogStorage()
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		if _, err := storage.AppendLog(ctx, "job_a", models.SeverityInfo, fmt.Sprintf("line %d", i)); err != nil {
			t.Fatal(err)
		}
	}

	logs, err := storage.GetLogs(ctx, "job_a", 7, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 3 {
		t.Fatalf("Expected 3 lines after seq 7, got %d", len(logs))
	}
	if logs[0].Sequence != 8 {
		t.Errorf("Expected first sequence 8, got %d", logs[0].Sequence)
	}

	limited, err := storage.GetLogs(ctx, "job_a", 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 4 {
		t.Errorf("Expected limit 4, got %d", len(limited))
	}
}

func TestSequenceRecoveryAfterRestart(t *testing.T) {
	dir := t.TempDir()
	logger := arbor.NewLogger()
	ctx := context.Background()

	manager, err := NewManager(logger, &common.BadgerConfig{Path: dir})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 3; i++ {
		if _, err := manager.JobLogStorage().AppendLog(ctx, "job_a", models.SeverityInfo, "line"); err != nil {
			t.Fatal(err)
		}
	}
	if err := manager.Close(); err != nil {
		t.Fatal(err)
	}

	// A fresh process must continue the sequence, never reuse one
	reopened, err := NewManager(logger, &common.BadgerConfig{Path: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	entry, err := reopened.JobLogStorage().AppendLog(ctx, "job_a", models.SeverityInfo, "after restart")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Sequence != 4 {
		t.Errorf("Expected sequence 4 after restart, got %d", entry.Sequence)
	}
}

func TestDeleteLogs(t *testing.T) {
	manager := newTestManager(t)
	storage := manager.JobLogStorage()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := storage.AppendLog(ctx, "job_a", models.SeverityInfo, "line"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := storage.AppendLog(ctx, "job_b", models.SeverityInfo, "keep"); err != nil {
		t.Fatal(err)
	}

	if err := storage.DeleteLogs(ctx, "job_a"); err != nil {
		t.Fatal(err)
	}

	count, err := storage.CountLogs(ctx, "job_a")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Expected 0 lines after delete, got %d", count)
	}

	count, err = storage.CountLogs(ctx, "job_b")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Other job's lines should survive, got %d", count)
	}
}
