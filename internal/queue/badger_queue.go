package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

// queueMessage is the internal structure stored in Badger
type queueMessage struct {
	ID           string          `json:"id"`
	Body         models.Envelope `json:"body"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	VisibleAt    time.Time       `json:"visible_at"`
	ReceiveCount int             `json:"receive_count"`
}

// BadgerQueue implements a persistent queue using BadgerDB.
//
// Layout: message data lives at queue:{name}:msg:{id}, and a visibility
// index at queue:{name}:index:{visibleAt}:{id}. The index timestamp is
// zero padded so Badger's lexicographic key order doubles as time order,
// which lets Receive stop scanning at the first future entry.
type BadgerQueue struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
}

// NewBadgerQueue creates a new Badger-backed queue
func NewBadgerQueue(db *badger.DB, config Config) (*BadgerQueue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if config.Name == "" {
		return nil, errors.New("queue name is required")
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 5 * time.Minute
	}
	if config.MaxReceive <= 0 {
		config.MaxReceive = 3
	}

	return &BadgerQueue{
		db:                db,
		queueName:         config.Name,
		visibilityTimeout: config.VisibilityTimeout,
		maxReceive:        config.MaxReceive,
	}, nil
}

// Enqueue adds an envelope to the queue, immediately visible
func (q *BadgerQueue) Enqueue(ctx context.Context, envelope *models.Envelope) error {
	if envelope == nil || envelope.JobID == "" {
		return errors.New("envelope with job_id is required")
	}

	qMsg := queueMessage{
		ID:         uuid.New().String(),
		Body:       *envelope,
		EnqueuedAt: time.Now(),
		VisibleAt:  time.Now(),
	}

	data, err := json.Marshal(qMsg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	return q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(q.msgKey(qMsg.ID), data); err != nil {
			return err
		}
		return txn.Set(q.indexKey(qMsg.VisibleAt, qMsg.ID), []byte{})
	})
}

// Receive pulls the next visible envelope from the queue. The envelope
// stays stored with an advanced VisibleAt; calling Ack deletes it, doing
// nothing redelivers it after the visibility timeout.
func (q *BadgerQueue) Receive(ctx context.Context) (*interfaces.Delivery, error) {
	var qMsg queueMessage
	var msgID string
	var oldIndexKey []byte

	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:index:", q.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		found := false

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := q.parseIndexKey(key)
			if err != nil {
				continue
			}

			if ts.After(now) {
				// Keys are sorted by timestamp, nothing later is ready either
				break
			}

			itemMsg, err := txn.Get(q.msgKey(id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Orphaned index entry, clean it up
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			if err := itemMsg.Value(func(val []byte) error {
				return json.Unmarshal(val, &qMsg)
			}); err != nil {
				return err
			}

			// Poison pill guard: drop envelopes that keep coming back
			if qMsg.ReceiveCount >= q.maxReceive {
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(q.msgKey(id)); err != nil {
					return err
				}
				continue
			}

			found = true
			msgID = id
			oldIndexKey = key
			break
		}

		if !found {
			return ErrNoMessage
		}

		qMsg.ReceiveCount++
		qMsg.VisibleAt = time.Now().Add(q.visibilityTimeout)

		newData, err := json.Marshal(qMsg)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(msgID), newData); err != nil {
			return err
		}

		if err := txn.Delete(oldIndexKey); err != nil {
			return err
		}
		return txn.Set(q.indexKey(qMsg.VisibleAt, msgID), []byte{})
	})

	if err != nil {
		return nil, err
	}

	envelope := qMsg.Body
	return &interfaces.Delivery{
		ID:       msgID,
		Envelope: &envelope,
		Ack: func() error {
			return q.delete(msgID)
		},
	}, nil
}

// Extend pushes out the visibility timeout for an in-flight envelope
func (q *BadgerQueue) Extend(ctx context.Context, deliveryID string, duration time.Duration) error {
	return q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(q.msgKey(deliveryID))
		if err != nil {
			return err
		}

		var qMsg queueMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &qMsg)
		}); err != nil {
			return err
		}

		oldVisibleAt := qMsg.VisibleAt
		qMsg.VisibleAt = time.Now().Add(duration)

		newData, err := json.Marshal(qMsg)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(deliveryID), newData); err != nil {
			return err
		}

		if err := txn.Delete(q.indexKey(oldVisibleAt, deliveryID)); err != nil {
			if err != badger.ErrKeyNotFound {
				return err
			}
		}
		return txn.Set(q.indexKey(qMsg.VisibleAt, deliveryID), []byte{})
	})
}

// Close is a no-op, the DB is owned by the storage layer
func (q *BadgerQueue) Close() error {
	return nil
}

func (q *BadgerQueue) delete(msgID string) error {
	return q.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(q.msgKey(msgID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil // Already deleted
			}
			return err
		}

		var current queueMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return err
		}

		if err := txn.Delete(q.indexKey(current.VisibleAt, msgID)); err != nil {
			if err != badger.ErrKeyNotFound {
				return err
			}
		}
		return txn.Delete(q.msgKey(msgID))
	})
}

func (q *BadgerQueue) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", q.queueName, id))
}

func (q *BadgerQueue) indexKey(visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so string sorting works like number sorting
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", q.queueName, visibleAt.UnixNano(), id))
}

func (q *BadgerQueue) parseIndexKey(key []byte) (time.Time, string, error) {
	prefixStr := fmt.Sprintf("queue:%s:index:", q.queueName)
	if len(key) <= len(prefixStr) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	suffix := string(key[len(prefixStr):])
	if len(suffix) < 21 { // 20 digits + 1 colon
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	tsStr := suffix[:20]
	id := suffix[21:]

	var ts int64
	if _, err := fmt.Sscanf(tsStr, "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), id, nil
}
