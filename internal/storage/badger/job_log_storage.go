package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobLogStorage implements the JobLogStorage interface for Badger.
//
// Sequence assignment is serialized under a mutex: concurrent target
// executions may append at the same time, but each job's log reads back
// gapless and in append order. Keys embed the zero-padded sequence so
// Badger's key ordering matches sequence ordering.
type JobLogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	mu      sync.Mutex
	lastSeq map[string]uint64 // jobID -> last assigned sequence
}

// NewJobLogStorage creates a new JobLogStorage instance
func NewJobLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobLogStorage {
	return &JobLogStorage{
		db:      db,
		logger:  logger,
		lastSeq: make(map[string]uint64),
	}
}

func logKey(jobID string, seq uint64) string {
	return fmt.Sprintf("%s_%020d", jobID, seq)
}

// AppendLog assigns the next sequence for the job and persists the line.
func (s *JobLogStorage) AppendLog(ctx context.Context, jobID string, severity, message string) (*models.JobLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.nextSequenceLocked(jobID)
	if err != nil {
		return nil, err
	}

	entry := models.JobLogEntry{
		JobID:     jobID,
		Sequence:  seq,
		Timestamp: time.Now(),
		Severity:  severity,
		Message:   message,
	}

	if err := s.db.Store().Insert(logKey(jobID, seq), &entry); err != nil {
		return nil, fmt.Errorf("failed to append log: %w", err)
	}

	s.lastSeq[jobID] = seq
	return &entry, nil
}

// nextSequenceLocked returns last+1, recovering the last durable sequence
// from storage on first use after a restart.
func (s *JobLogStorage) nextSequenceLocked(jobID string) (uint64, error) {
	if last, ok := s.lastSeq[jobID]; ok {
		return last + 1, nil
	}

	var entries []models.JobLogEntry
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("Sequence").Reverse().Limit(1)
	if err := s.db.Store().Find(&entries, query); err != nil {
		return 0, fmt.Errorf("failed to read last sequence: %w", err)
	}

	var last uint64
	if len(entries) > 0 {
		last = entries[0].Sequence
	}
	s.lastSeq[jobID] = last
	return last + 1, nil
}

// GetLogs returns lines with sequence > afterSeq in ascending order.
func (s *JobLogStorage) GetLogs(ctx context.Context, jobID string, afterSeq uint64, limit int) ([]models.JobLogEntry, error) {
	var logs []models.JobLogEntry
	query := badgerhold.Where("JobID").Eq(jobID).And("Sequence").Gt(afterSeq).SortBy("Sequence")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := s.db.Store().Find(&logs, query); err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	return logs, nil
}

func (s *JobLogStorage) CountLogs(ctx context.Context, jobID string) (int, error) {
	count, err := s.db.Store().Count(&models.JobLogEntry{}, badgerhold.Where("JobID").Eq(jobID))
	if err != nil {
		return 0, fmt.Errorf("failed to count logs: %w", err)
	}
	return int(count), nil
}

func (s *JobLogStorage) DeleteLogs(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Store().DeleteMatching(&models.JobLogEntry{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete logs: %w", err)
	}
	delete(s.lastSeq, jobID)
	return nil
}
