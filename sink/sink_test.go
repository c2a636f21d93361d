package sink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"dm-engine/domain/event"
	apperrors "dm-engine/errors"
)

func Test_Consume_Queues_Event(t *testing.T) {
	req := require.New(t)
	s := NewChannelSink(4)

	req.NoError(s.Consume(context.Background(), event.ChatJoined{ChatID: "c1"}))

	evt := <-s.Events
	req.Equal(event.ChatJoined{ChatID: "c1"}, evt)
}

func Test_Consume_On_Closed_Sink_Reports_Stale(t *testing.T) {
	req := require.New(t)
	s := NewChannelSink(4)

	s.Close()

	err := s.Consume(context.Background(), event.ChatJoined{ChatID: "c1"})
	req.ErrorIs(err, apperrors.ErrStaleSession)
}

func Test_Consume_Full_Buffer_Drops_Silently(t *testing.T) {
	req := require.New(t)
	s := NewChannelSink(1)
	ctx := context.Background()

	req.NoError(s.Consume(ctx, event.ChatJoined{ChatID: "c1"}))
	// Second push finds the buffer full: dropped, not an error
	req.NoError(s.Consume(ctx, event.ChatJoined{ChatID: "c2"}))
	req.Len(s.Events, 1)
}
