//go:generate go run go.uber.org/mock/mockgen -source=buffer.go -destination=../mocks/mock_buffer_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"dm-engine/domain"
)

type IBufferRepository interface {
	Enqueue(message domain.Message) (BufferedMessage, error)
	Drain(receiverID string) ([]BufferedMessage, error)
	MarkDelivered(id uuid.UUID) error
	SweepExpired(olderThan time.Duration) (int, error)
	Stats() (BufferStats, error)
}

// BufferedMessage is the durable record of a message whose receiver had
// no live session at send time. Append-only and immutable except for the
// single delivered false->true transition.
type BufferedMessage struct {
	ID          uuid.UUID     `json:"id"`
	ChatID      domain.ChatID `json:"chat_id"`
	Sender      string        `json:"sender"`
	Receiver    string        `json:"receiver"`
	Content     string        `json:"content"`
	SentAt      time.Time     `json:"sent_at"`
	Delivered   bool          `json:"delivered"`
	DeliveredAt time.Time     `json:"delivered_at,omitempty"`
}

// BufferStats mirrors the operational counters of the buffer store.
type BufferStats struct {
	Total       int
	Delivered   int
	Undelivered int
}

type BufferRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewBufferRepository(db *badger.DB, log *slog.Logger) BufferRepository {
	return BufferRepository{db: db, log: log}
}

// bufferKey is formatted as "buf:{receiver}:{timestamp_padded}:{uuid}" to:
//  1. Make the per-receiver drain a single prefix scan.
//  2. Ensure chronological replay order using 19-digit zero padding
//     (lexicographical order equals timestamp order).
//  3. Prevent key collisions if two messages arrive at the same nanosecond.
func bufferKey(receiver string, at time.Time, id uuid.UUID) []byte {
	return fmt.Appendf(nil, "buf:%s:%019d:%s", receiver, at.UnixNano(), id)
}

// bufferIndexKey maps a message ID back to its primary key, so that
// MarkDelivered can address a record without knowing receiver or time.
func bufferIndexKey(id uuid.UUID) []byte {
	return fmt.Appendf(nil, "bufidx:%s", id)
}

// Enqueue durably stores an undelivered copy of the message.
func (b BufferRepository) Enqueue(message domain.Message) (BufferedMessage, error) {
	buffered := BufferedMessage{
		ID:       message.ID,
		ChatID:   message.ChatID,
		Sender:   message.Sender,
		Receiver: message.Receiver,
		Content:  message.Content,
		SentAt:   message.SentAt,
	}

	data, err := json.Marshal(buffered)
	if err != nil {
		return BufferedMessage{}, fmt.Errorf("marshal failed: %w", err)
	}

	key := bufferKey(buffered.Receiver, buffered.SentAt, buffered.ID)
	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(bufferIndexKey(buffered.ID), key)
	})
	if err != nil {
		return BufferedMessage{}, err
	}
	return buffered, nil
}

// Drain returns the undelivered backlog for a receiver in timestamp
// ascending order. It reads only; callers mark each record delivered
// once it has actually been pushed to a session.
func (b BufferRepository) Drain(receiverID string) ([]BufferedMessage, error) {
	var backlog []BufferedMessage
	prefix := fmt.Appendf(nil, "buf:%s:", receiverID)

	err := b.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var record BufferedMessage
				if err := json.Unmarshal(value, &record); err != nil {
					return fmt.Errorf("unmarshal failed: %w", err)
				}
				if !record.Delivered {
					backlog = append(backlog, record)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return backlog, nil
}

// MarkDelivered flips the delivered flag of one record. Idempotent: a
// second call on the same ID leaves the record untouched, including its
// original DeliveredAt.
func (b BufferRepository) MarkDelivered(id uuid.UUID) error {
	return b.db.Update(func(txn *badger.Txn) error {
		indexItem, err := txn.Get(bufferIndexKey(id))
		if err != nil {
			return fmt.Errorf("buffered message %s: %w", id, err)
		}
		var key []byte
		if err := indexItem.Value(func(v []byte) error {
			key = append([]byte(nil), v...)
			return nil
		}); err != nil {
			return err
		}

		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var record BufferedMessage
		if err := item.Value(func(v []byte) error {
			return json.Unmarshal(v, &record)
		}); err != nil {
			return err
		}

		if record.Delivered {
			return nil
		}
		record.Delivered = true
		record.DeliveredAt = time.Now().UTC()

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal failed: %w", err)
		}
		return txn.Set(key, data)
	})
}

// SweepExpired deletes delivered records whose DeliveredAt is older than
// the retention window, together with their index entries. Undelivered
// records are never touched, whatever their age. Returns the number of
// records removed.
func (b BufferRepository) SweepExpired(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	prefix := []byte("buf:")

	var expiredKeys [][]byte
	var expiredIDs []uuid.UUID
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(value []byte) error {
				var record BufferedMessage
				if err := json.Unmarshal(value, &record); err != nil {
					return fmt.Errorf("unmarshal failed: %w", err)
				}
				if record.Delivered && record.DeliveredAt.Before(cutoff) {
					expiredKeys = append(expiredKeys, item.KeyCopy(nil))
					expiredIDs = append(expiredIDs, record.ID)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for i, key := range expiredKeys {
		id := expiredIDs[i]
		err = b.db.Update(func(txn *badger.Txn) error {
			if err := txn.Delete(key); err != nil {
				return err
			}
			return txn.Delete(bufferIndexKey(id))
		})
		if err != nil {
			return i, err
		}
	}

	if len(expiredKeys) > 0 {
		b.log.Debug(fmt.Sprintf("Swept %d delivered buffered messages", len(expiredKeys)))
	}
	return len(expiredKeys), nil
}

// Stats counts buffered records by delivery status.
func (b BufferRepository) Stats() (BufferStats, error) {
	var stats BufferStats
	prefix := []byte("buf:")

	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var record BufferedMessage
				if err := json.Unmarshal(value, &record); err != nil {
					return err
				}
				stats.Total++
				if record.Delivered {
					stats.Delivered++
				} else {
					stats.Undelivered++
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return stats, err
}
