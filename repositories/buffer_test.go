package repositories

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"dm-engine/domain"
)

func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testMessage(receiver string, at time.Time) domain.Message {
	return domain.Message{
		ID:       uuid.New(),
		ChatID:   domain.ChatID(uuid.NewString()),
		Sender:   "alice",
		Receiver: receiver,
		Content:  "this message will self destruct in 5 seconds",
		SentAt:   at,
	}
}

func Test_Enqueue_And_Drain_In_Timestamp_Order(t *testing.T) {
	req := require.New(t)
	repository := NewBufferRepository(newTestDB(t), slog.Default())
	at := time.Now().UTC()

	// Given three messages buffered out of send order
	second := testMessage("bob", at.Add(1*time.Minute))
	third := testMessage("bob", at.Add(2*time.Minute))
	first := testMessage("bob", at)
	for _, m := range []domain.Message{second, third, first} {
		_, err := repository.Enqueue(m)
		req.NoError(err)
	}

	// When draining the receiver's backlog
	backlog, err := repository.Drain("bob")
	req.NoError(err)

	// Then records come back in timestamp ascending order, all undelivered
	req.Len(backlog, 3)
	req.Equal(first.ID, backlog[0].ID)
	req.Equal(second.ID, backlog[1].ID)
	req.Equal(third.ID, backlog[2].ID)
	for _, record := range backlog {
		req.False(record.Delivered)
	}
}

func Test_Drain_Is_Scoped_To_Receiver(t *testing.T) {
	req := require.New(t)
	repository := NewBufferRepository(newTestDB(t), slog.Default())
	at := time.Now().UTC()

	_, err := repository.Enqueue(testMessage("bob", at))
	req.NoError(err)
	_, err = repository.Enqueue(testMessage("clara", at))
	req.NoError(err)

	backlog, err := repository.Drain("bob")
	req.NoError(err)
	req.Len(backlog, 1)
	req.Equal("bob", backlog[0].Receiver)
}

func Test_MarkDelivered_Removes_From_Drain(t *testing.T) {
	req := require.New(t)
	repository := NewBufferRepository(newTestDB(t), slog.Default())

	buffered, err := repository.Enqueue(testMessage("bob", time.Now().UTC()))
	req.NoError(err)

	// When the record is marked delivered
	req.NoError(repository.MarkDelivered(buffered.ID))

	// Then re-draining never re-emits it
	backlog, err := repository.Drain("bob")
	req.NoError(err)
	req.Empty(backlog)
}

func Test_MarkDelivered_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	repository := NewBufferRepository(newTestDB(t), slog.Default())

	buffered, err := repository.Enqueue(testMessage("bob", time.Now().UTC()))
	req.NoError(err)

	// When marking the same record twice
	req.NoError(repository.MarkDelivered(buffered.ID))
	req.NoError(repository.MarkDelivered(buffered.ID))

	// Then the state is identical to a single call
	stats, err := repository.Stats()
	req.NoError(err)
	req.Equal(BufferStats{Total: 1, Delivered: 1, Undelivered: 0}, stats)
}

func Test_MarkDelivered_Unknown_ID_Fails(t *testing.T) {
	req := require.New(t)
	repository := NewBufferRepository(newTestDB(t), slog.Default())

	err := repository.MarkDelivered(uuid.New())
	req.Error(err)
}

func Test_Sweep_Deletes_Only_Old_Delivered_Records(t *testing.T) {
	req := require.New(t)
	db := newTestDB(t)
	repository := NewBufferRepository(db, slog.Default())
	now := time.Now().UTC()

	// Given one delivered record aged 8 days, one delivered yesterday,
	// and one undelivered record older than both
	old, err := repository.Enqueue(testMessage("bob", now.Add(-9*24*time.Hour)))
	req.NoError(err)
	req.NoError(repository.MarkDelivered(old.ID))
	req.NoError(backdateDeliveredAt(db, old, now.Add(-8*24*time.Hour)))

	recent, err := repository.Enqueue(testMessage("bob", now.Add(-2*24*time.Hour)))
	req.NoError(err)
	req.NoError(repository.MarkDelivered(recent.ID))

	_, err = repository.Enqueue(testMessage("bob", now.Add(-30*24*time.Hour)))
	req.NoError(err)

	// When sweeping with a 7 day retention
	swept, err := repository.SweepExpired(7 * 24 * time.Hour)
	req.NoError(err)

	// Then only the old delivered record is gone
	req.Equal(1, swept)
	stats, err := repository.Stats()
	req.NoError(err)
	req.Equal(BufferStats{Total: 2, Delivered: 1, Undelivered: 1}, stats)

	// And the undelivered record is still drainable
	backlog, err := repository.Drain("bob")
	req.NoError(err)
	req.Len(backlog, 1)
}

// backdateDeliveredAt rewrites a record's DeliveredAt, standing in for
// the passage of time.
func backdateDeliveredAt(db *badger.DB, record BufferedMessage, deliveredAt time.Time) error {
	record.Delivered = true
	record.DeliveredAt = deliveredAt
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	key := bufferKey(record.Receiver, record.SentAt, record.ID)
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}
