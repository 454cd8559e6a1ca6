package main

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/equiplease/quote-api/internal/events"
	"github.com/equiplease/quote-api/internal/quote"
)

type captureNotifier struct {
	got []events.Event
}

func (c *captureNotifier) Notify(_ context.Context, ev events.Event) error {
	c.got = append(c.got, ev)
	return nil
}

func TestSaveHooksPublishEvents(t *testing.T) {
	capture := &captureNotifier{}
	bus := &events.Bus{Notifiers: []events.Notifier{capture}}
	logger := zerolog.Nop()
	hooks := saveMetricsHooks(bus, &logger)

	q := &quote.Quote{ID: uuid.New(), LockedBy: "alice"}

	hooks.OnSaved(q, 3)
	require.Len(t, capture.got, 1)
	require.Equal(t, events.TopicQuoteSaved, capture.got[0].Topic)
	require.Equal(t, q.ID, capture.got[0].QuoteID)
	require.Equal(t, "alice", capture.got[0].ActorID)

	hooks.OnLockConflict(q)
	hooks.OnVersionConflict(q)
	require.Len(t, capture.got, 3)
	require.Equal(t, events.TopicQuoteSaveConflict, capture.got[1].Topic)
	require.Equal(t, events.TopicQuoteSaveConflict, capture.got[2].Topic)
}
