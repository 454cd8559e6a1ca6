package notify

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/equiplease/quote-api/internal/events"
	"github.com/equiplease/quote-api/internal/resilience"
)

func testEvent() events.Event {
	return events.Event{
		Topic:      events.TopicQuoteStatusChanged,
		QuoteID:    uuid.New(),
		ActorID:    "alice",
		Payload:    json.RawMessage(`{"from":"draft","to":"in_review"}`),
		OccurredAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func testHTTP() *resilience.HTTPClient {
	return &resilience.HTTPClient{Client: &http.Client{}, MaxAttempts: 1}
}

func TestDeliverSignsPayload(t *testing.T) {
	var gotBody []byte
	var gotSig, gotTS, gotEventID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature")
		gotTS = r.Header.Get("X-Timestamp")
		gotEventID = r.Header.Get("X-Event-ID")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := Deliverer{URL: srv.URL, Secret: "s3cret", HTTP: testHTTP()}
	ev := testEvent()
	require.NoError(t, d.Deliver(context.Background(), ev))

	var payload struct {
		Topic   string          `json:"topic"`
		QuoteID string          `json:"quoteId"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	require.Equal(t, ev.Topic, payload.Topic)
	require.Equal(t, ev.QuoteID.String(), payload.QuoteID)
	require.JSONEq(t, string(ev.Payload), string(payload.Data))

	ts, err := strconv.ParseInt(gotTS, 10, 64)
	require.NoError(t, err)
	expected := ComputeSignature("s3cret", ts, gotEventID, gotBody)
	require.True(t, hmac.Equal([]byte(expected), []byte(gotSig)), "signature mismatch")
}

func TestDeliverNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := Deliverer{URL: srv.URL, Secret: "s", HTTP: testHTTP()}
	require.Error(t, d.Deliver(context.Background(), testEvent()))
}

func TestDeliverRejectsBadURL(t *testing.T) {
	d := Deliverer{URL: "http://evil.example.com/hook", Secret: "s", HTTP: testHTTP()}
	require.Error(t, d.Deliver(context.Background(), testEvent()))

	d.URL = "ftp://example.com"
	require.Error(t, d.Deliver(context.Background(), testEvent()))
}

func TestValidateURL(t *testing.T) {
	require.NoError(t, validateURL("https://hooks.example.com/quotes"))
	require.NoError(t, validateURL("http://localhost:9999/hook"))
	require.Error(t, validateURL("http://internal.example.com/hook"))
	require.Error(t, validateURL("https://"))
}

func TestEnqueuerSkipsUnsubscribedTopics(t *testing.T) {
	e := NewEnqueuer(nil, []string{events.TopicQuoteStatusChanged}, zerolog.Nop())
	require.True(t, e.Topics[events.TopicQuoteStatusChanged])
	require.False(t, e.Topics[events.TopicQuoteSaved])

	// A nil client never fails: delivery is simply disabled.
	require.NoError(t, e.Notify(context.Background(), testEvent()))
}

func TestComputeSignatureIsStable(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig1 := ComputeSignature("secret", 1700000000, "ev-1", body)
	sig2 := ComputeSignature("secret", 1700000000, "ev-1", body)
	require.Equal(t, sig1, sig2)
	require.NotEqual(t, sig1, ComputeSignature("other", 1700000000, "ev-1", body))
	require.NotEqual(t, sig1, ComputeSignature("secret", 1700000001, "ev-1", body))
}
