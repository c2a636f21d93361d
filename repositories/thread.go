//go:generate go run go.uber.org/mock/mockgen -source=thread.go -destination=../mocks/mock_thread_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"dm-engine/domain"
	apperrors "dm-engine/errors"
)

type IThreadRepository interface {
	ResolveOrCreateThread(userA, userB string) (domain.Thread, error)
	GetThread(chatID domain.ChatID) (domain.Thread, error)
	AppendMessage(message domain.Message) error
	History(chatID domain.ChatID) ([]domain.Message, error)
}

// ThreadRepository owns the permanent per-chat history. Threads are
// created lazily on first join or first message between a pair and
// never deleted here.
type ThreadRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewThreadRepository(db *badger.DB, log *slog.Logger) ThreadRepository {
	return ThreadRepository{db: db, log: log}
}

func threadKey(chatID domain.ChatID) []byte {
	return fmt.Appendf(nil, "thread:%s", chatID)
}

// pairKey indexes the sorted participant pair, the uniqueness point
// that stops concurrent find-then-insert from creating duplicate
// threads for the same two users.
func pairKey(userA, userB string) []byte {
	first, second := domain.PairKey(userA, userB)
	return fmt.Appendf(nil, "pair:%s:%s", first, second)
}

func messageKey(chatID domain.ChatID, at time.Time, id uuid.UUID) []byte {
	return fmt.Appendf(nil, "msg:%s:%019d:%s", chatID, at.UnixNano(), id)
}

// ResolveOrCreateThread finds the two-party thread for (userA, userB),
// creating it with empty history when absent. Pair index and thread
// record are written in one transaction; on a write conflict the whole
// lookup is retried, so two racing joiners converge on a single thread.
func (t ThreadRepository) ResolveOrCreateThread(userA, userB string) (domain.Thread, error) {
	for {
		thread, err := t.resolveOrCreateOnce(userA, userB)
		if err == badger.ErrConflict {
			continue
		}
		return thread, err
	}
}

func (t ThreadRepository) resolveOrCreateOnce(userA, userB string) (domain.Thread, error) {
	var thread domain.Thread
	err := t.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(pairKey(userA, userB))
		if err == nil {
			var chatID []byte
			if err := item.Value(func(v []byte) error {
				chatID = append([]byte(nil), v...)
				return nil
			}); err != nil {
				return err
			}
			return readThread(txn, domain.ChatID(chatID), &thread)
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		first, second := domain.PairKey(userA, userB)
		thread = domain.Thread{
			ID:           domain.ChatID(uuid.NewString()),
			Participants: [2]string{first, second},
			CreatedAt:    time.Now().UTC(),
		}
		data, err := json.Marshal(thread)
		if err != nil {
			return fmt.Errorf("marshal failed: %w", err)
		}
		if err := txn.Set(threadKey(thread.ID), data); err != nil {
			return err
		}
		return txn.Set(pairKey(userA, userB), []byte(thread.ID))
	})
	if err != nil {
		return domain.Thread{}, err
	}
	return thread, nil
}

// GetThread resolves a chatID, reporting ErrThreadNotFound for unknown IDs.
func (t ThreadRepository) GetThread(chatID domain.ChatID) (domain.Thread, error) {
	var thread domain.Thread
	err := t.db.View(func(txn *badger.Txn) error {
		return readThread(txn, chatID, &thread)
	})
	if err != nil {
		return domain.Thread{}, err
	}
	return thread, nil
}

func readThread(txn *badger.Txn, chatID domain.ChatID, thread *domain.Thread) error {
	item, err := txn.Get(threadKey(chatID))
	if err == badger.ErrKeyNotFound {
		return fmt.Errorf("%w: %s", apperrors.ErrThreadNotFound, chatID)
	}
	if err != nil {
		return err
	}
	return item.Value(func(v []byte) error {
		return json.Unmarshal(v, thread)
	})
}

// AppendMessage persists one message into the thread history. The key
// carries the padded timestamp, so History reads back in append order
// without any sort step. Serialization of concurrent appends within one
// chat is the router's job; the repository stays a plain write.
func (t ThreadRepository) AppendMessage(message domain.Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	key := messageKey(message.ChatID, message.SentAt, message.ID)
	return t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// History returns the full persisted history of a chat, oldest first.
func (t ThreadRepository) History(chatID domain.ChatID) ([]domain.Message, error) {
	var messages []domain.Message
	prefix := fmt.Appendf(nil, "msg:%s:", chatID)

	err := t.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var message domain.Message
				if err := json.Unmarshal(value, &message); err != nil {
					return fmt.Errorf("unmarshal failed: %w", err)
				}
				messages = append(messages, message)
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
	return messages, nil
}
