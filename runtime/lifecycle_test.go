package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"dm-engine/domain"
	"dm-engine/domain/event"
	"dm-engine/observability"
	"dm-engine/presence"
	"dm-engine/repositories"
)

type lifecycleFixture struct {
	lifecycle *Lifecycle
	router    *Router
	registry  *presence.Registry
	threads   repositories.ThreadRepository
	buffer    repositories.BufferRepository
}

func newLifecycleFixture(t *testing.T) lifecycleFixture {
	t.Helper()
	db := newTestDB(t)
	log := slog.Default()
	registry := presence.NewRegistry()
	threads := repositories.NewThreadRepository(db, log)
	buffer := repositories.NewBufferRepository(db, log)
	monitoring := observability.NewMonitoringManager()
	return lifecycleFixture{
		lifecycle: NewLifecycle(log, registry, threads, buffer, monitoring),
		router:    NewRouter(log, registry, threads, buffer, monitoring),
		registry:  registry,
		threads:   threads,
		buffer:    buffer,
	}
}

func Test_JoinChat_Emits_Joined_Then_History(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)
	ctx := context.Background()

	// Given an existing chat with two persisted messages
	thread, err := f.threads.ResolveOrCreateThread("alice", "bob")
	req.NoError(err)
	at := time.Now().UTC()
	for i, content := range []string{"hi", "hello"} {
		req.NoError(f.threads.AppendMessage(domain.Message{
			ID:       uuid.New(),
			ChatID:   thread.ID,
			Sender:   "alice",
			Receiver: "bob",
			Content:  content,
			SentAt:   at.Add(time.Duration(i) * time.Second),
		}))
	}

	// When bob joins the chat
	sink := &collectSink{}
	sessionID, chatID, err := f.lifecycle.JoinChat(ctx, "bob", "alice", sink)
	req.NoError(err)
	req.Equal(thread.ID, chatID)

	// Then he is online
	req.True(f.registry.IsOnline("bob"))
	req.NotEmpty(sessionID)

	// And he received chat_joined followed by the full snapshot
	events := sink.Events()
	req.Len(events, 2)
	joined, ok := events[0].(event.ChatJoined)
	req.True(ok)
	req.Equal(thread.ID, joined.ChatID)
	history, ok := events[1].(event.ChatHistory)
	req.True(ok)
	req.Len(history.Messages, 2)
	req.Equal("hi", history.Messages[0].Content)
}

func Test_JoinChat_Replays_Buffered_Backlog_After_History(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)
	ctx := context.Background()

	// Given alice sent to bob while he was offline (Scenario A)
	thread, err := f.threads.ResolveOrCreateThread("alice", "bob")
	req.NoError(err)
	message := domain.Message{
		ID:       uuid.New(),
		ChatID:   thread.ID,
		Sender:   "alice",
		Receiver: "bob",
		Content:  "hi",
		SentAt:   time.Now().UTC(),
	}
	req.NoError(f.router.Deliver(ctx, message, "s1"))

	// When bob connects and joins the chat (Scenario B)
	sink := &collectSink{}
	_, _, err = f.lifecycle.JoinChat(ctx, "bob", "alice", sink)
	req.NoError(err)

	// Then the order is: joined, history snapshot, then the replay
	events := sink.Events()
	req.Len(events, 3)
	req.IsType(event.ChatJoined{}, events[0])
	req.IsType(event.ChatHistory{}, events[1])
	replay, ok := events[2].(event.ChatMessage)
	req.True(ok)
	req.Equal(message.ID, replay.Message.ID)
	req.Equal(thread.ID, replay.Message.ChatID)

	// And the buffered copy is now marked delivered
	backlog, err := f.buffer.Drain("bob")
	req.NoError(err)
	req.Empty(backlog)
}

func Test_JoinChat_Does_Not_Replay_Twice(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)
	ctx := context.Background()

	thread, err := f.threads.ResolveOrCreateThread("alice", "bob")
	req.NoError(err)
	req.NoError(f.router.Deliver(ctx, domain.Message{
		ID:       uuid.New(),
		ChatID:   thread.ID,
		Sender:   "alice",
		Receiver: "bob",
		Content:  "hi",
		SentAt:   time.Now().UTC(),
	}, "s1"))

	// Given a first join consumed the backlog
	first := &collectSink{}
	_, _, err = f.lifecycle.JoinChat(ctx, "bob", "alice", first)
	req.NoError(err)
	req.Len(first.Events(), 3)

	// When bob reconnects later
	second := &collectSink{}
	_, _, err = f.lifecycle.JoinChat(ctx, "bob", "alice", second)
	req.NoError(err)

	// Then the message arrives once more via history, never via replay
	events := second.Events()
	req.Len(events, 2)
	req.IsType(event.ChatJoined{}, events[0])
	req.IsType(event.ChatHistory{}, events[1])
}

func Test_JoinChat_Replay_Covers_All_Chats_Of_The_Receiver(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)
	ctx := context.Background()

	// Given bob has backlog from two different chats
	aliceThread, err := f.threads.ResolveOrCreateThread("alice", "bob")
	req.NoError(err)
	claraThread, err := f.threads.ResolveOrCreateThread("clara", "bob")
	req.NoError(err)
	at := time.Now().UTC()
	req.NoError(f.router.Deliver(ctx, domain.Message{
		ID: uuid.New(), ChatID: aliceThread.ID,
		Sender: "alice", Receiver: "bob", Content: "from alice", SentAt: at,
	}, "s1"))
	req.NoError(f.router.Deliver(ctx, domain.Message{
		ID: uuid.New(), ChatID: claraThread.ID,
		Sender: "clara", Receiver: "bob", Content: "from clara", SentAt: at.Add(time.Second),
	}, "s2"))

	// When bob joins only the chat with alice
	sink := &collectSink{}
	_, _, err = f.lifecycle.JoinChat(ctx, "bob", "alice", sink)
	req.NoError(err)

	// Then both buffered messages replay, each tagged with its own chat
	events := sink.Events()
	req.Len(events, 4)
	firstReplay := events[2].(event.ChatMessage)
	secondReplay := events[3].(event.ChatMessage)
	req.Equal(aliceThread.ID, firstReplay.Message.ChatID)
	req.Equal(claraThread.ID, secondReplay.Message.ChatID)
}

// failingResolveRepo refuses thread resolution.
type failingResolveRepo struct {
	repositories.IThreadRepository
}

func (r failingResolveRepo) ResolveOrCreateThread(_, _ string) (domain.Thread, error) {
	return domain.Thread{}, fmt.Errorf("store unreachable")
}

func Test_JoinChat_Failure_Still_Registers_Presence(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)
	monitoring := observability.NewMonitoringManager()
	lifecycle := NewLifecycle(slog.Default(), f.registry,
		failingResolveRepo{IThreadRepository: f.threads}, f.buffer, monitoring)

	// When the thread join fails
	sink := &collectSink{}
	sessionID, _, err := lifecycle.JoinChat(context.Background(), "bob", "alice", sink)

	// Then the error surfaces but bob stays online for notifications
	req.Error(err)
	req.True(f.registry.IsOnline("bob"))
	req.NotEmpty(sessionID)
}

func Test_JoinNotifications_Registers_Without_Thread(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)

	sessionID := f.lifecycle.JoinNotifications("bob", &collectSink{})

	req.True(f.registry.IsOnline("bob"))
	req.NotEmpty(sessionID)
}

func Test_Disconnect_Leaves_Buffer_Alone(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)

	// Given bob is online with a pending backlog for later
	thread, err := f.threads.ResolveOrCreateThread("alice", "bob")
	req.NoError(err)
	sessionID := f.lifecycle.JoinNotifications("bob", staleSink{})
	_, err = f.buffer.Enqueue(domain.Message{
		ID: uuid.New(), ChatID: thread.ID,
		Sender: "alice", Receiver: "bob", Content: "hi", SentAt: time.Now().UTC(),
	})
	req.NoError(err)

	// When bob disconnects
	f.lifecycle.Disconnect("bob", sessionID)

	// Then only the presence entry is gone; the backlog stays
	req.False(f.registry.IsOnline("bob"))
	backlog, err := f.buffer.Drain("bob")
	req.NoError(err)
	req.Len(backlog, 1)
}

func Test_Replay_Stops_When_Session_Goes_Stale(t *testing.T) {
	req := require.New(t)
	f := newLifecycleFixture(t)
	ctx := context.Background()

	thread, err := f.threads.ResolveOrCreateThread("alice", "bob")
	req.NoError(err)
	_, err = f.buffer.Enqueue(domain.Message{
		ID: uuid.New(), ChatID: thread.ID,
		Sender: "alice", Receiver: "bob", Content: "hi", SentAt: time.Now().UTC(),
	})
	req.NoError(err)

	// When the replay pushes into a dead sink
	f.lifecycle.replayBacklog(ctx, "bob", staleSink{})

	// Then the record stays undelivered for the next reconnect
	backlog, err := f.buffer.Drain("bob")
	req.NoError(err)
	req.Len(backlog, 1)
	req.False(backlog[0].Delivered)
}
