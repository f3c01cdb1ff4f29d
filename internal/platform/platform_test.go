package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelworks/guildsight/internal/ingest"
	"github.com/kestrelworks/guildsight/internal/logging"
)

type sinkCall struct {
	kind string
	ev   any
}

type fakeSink struct {
	calls []sinkCall
	err   error
}

func (s *fakeSink) OnMessageCreated(_ context.Context, ev ingest.MessageEvent) error {
	s.calls = append(s.calls, sinkCall{"created", ev})
	return s.err
}

func (s *fakeSink) OnMessageEdited(_ context.Context, ev ingest.EditEvent) error {
	s.calls = append(s.calls, sinkCall{"edited", ev})
	return s.err
}

func (s *fakeSink) OnMessagesDeleted(_ context.Context, ev ingest.DeleteEvent) error {
	s.calls = append(s.calls, sinkCall{"deleted", ev})
	return s.err
}

func (s *fakeSink) OnAsk(_ context.Context, ev ingest.AskEvent) error {
	s.calls = append(s.calls, sinkCall{"ask", ev})
	return s.err
}

func deliver(t *testing.T, sink EventSink, secret, body string, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if sign {
		req.Header.Set(SignatureHeader, Sign(secret, []byte(body)))
	}
	rec := httptest.NewRecorder()
	handler := WebhookHandler(sink, secret, logging.NewNopLogger())
	err := handler(e.NewContext(req, rec))
	if err != nil {
		e.HTTPErrorHandler(err, e.NewContext(req, rec))
	}
	return rec
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	sink := &fakeSink{}
	body := `{"type":"message.deleted","tenant_id":1,"data":{"channel_id":2,"message_ids":[3]}}`
	rec := deliver(t, sink, "s3cret", body, false)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, sink.calls)
}

func TestWebhookDispatchesMessageCreated(t *testing.T) {
	sink := &fakeSink{}
	body := `{
		"type": "message.created",
		"tenant_id": 7,
		"data": {
			"id": 100, "channel_id": 5, "channel_name": "general",
			"author": {"id": 9, "username": "ada", "display_name": "Ada", "bot": false},
			"content": "hello",
			"timestamp": "2026-03-01T10:00:00Z",
			"attachments": [{"id": 1, "filename": "notes.pdf", "url": "https://cdn/notes.pdf", "size": 2048}]
		}
	}`
	rec := deliver(t, sink, "s3cret", body, true)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, sink.calls, 1)
	ev := sink.calls[0].ev.(ingest.MessageEvent)
	assert.Equal(t, int64(100), ev.MessageID)
	assert.Equal(t, int64(7), ev.TenantID)
	assert.Equal(t, "general", ev.ChannelName)
	assert.Equal(t, "ada", ev.AuthorName)
	require.Len(t, ev.Attachments, 1)
	assert.Equal(t, "notes.pdf", ev.Attachments[0].Filename)
	assert.Equal(t, int64(2048), ev.Attachments[0].SizeBytes)
}

func TestWebhookDispatchesDeleteAndAsk(t *testing.T) {
	sink := &fakeSink{}

	del := `{"type":"message.deleted","tenant_id":7,"data":{"channel_id":5,"message_ids":[1,2,3]}}`
	rec := deliver(t, sink, "s3cret", del, true)
	require.Equal(t, http.StatusNoContent, rec.Code)

	ask := `{"type":"ask","tenant_id":7,"data":{"channel_id":5,"user_id":9,"query":"what happened?","reply_token":"tok-1"}}`
	rec = deliver(t, sink, "s3cret", ask, true)
	require.Equal(t, http.StatusNoContent, rec.Code)

	require.Len(t, sink.calls, 2)
	delEv := sink.calls[0].ev.(ingest.DeleteEvent)
	assert.Equal(t, []int64{1, 2, 3}, delEv.MessageIDs)
	askEv := sink.calls[1].ev.(ingest.AskEvent)
	assert.Equal(t, "what happened?", askEv.Query)
	assert.Equal(t, "tok-1", askEv.ReplyToken)
}

func TestWebhookRequiresTenant(t *testing.T) {
	sink := &fakeSink{}
	body := `{"type":"ask","data":{"user_id":9,"query":"hi"}}`
	rec := deliver(t, sink, "s3cret", body, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, sink.calls)
}

func TestWebhookIgnoresUnknownType(t *testing.T) {
	sink := &fakeSink{}
	body := `{"type":"reaction.added","tenant_id":7,"data":{}}`
	rec := deliver(t, sink, "s3cret", body, true)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, sink.calls)
}

func TestReplyUsesDeferredEndpointWhenTokenSet(t *testing.T) {
	var gotPath, gotAuth, gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotContent = body["content"]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "bot-token"})
	require.NoError(t, c.Reply(context.Background(), "tok-9", 5, "the answer"))

	assert.Equal(t, "/interactions/tok-9/reply", gotPath)
	assert.Equal(t, "Bot bot-token", gotAuth)
	assert.Equal(t, "the answer", gotContent)

	require.NoError(t, c.Reply(context.Background(), "", 5, "direct"))
	assert.Equal(t, "/channels/5/messages", gotPath)
}

func TestReplyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	err := c.Reply(context.Background(), "", 5, "nope")
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestChannelHistoryPaginatesAndFilters(t *testing.T) {
	// Two full-looking pages then an empty one; ids 1..150.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
		var page []map[string]any
		for id := after + 1; id <= after+100 && id <= 150; id++ {
			ts := time.Date(2026, 3, 1, 0, 0, int(id), 0, time.UTC)
			page = append(page, map[string]any{
				"id":         id,
				"channel_id": 5,
				"author":     map[string]any{"id": 9, "username": "ada"},
				"content":    fmt.Sprintf("msg %d", id),
				"timestamp":  ts.Format(time.RFC3339),
			})
		}
		require.NoError(t, json.NewEncoder(w).Encode(page))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	since := time.Date(2026, 3, 1, 0, 0, 100, 0, time.UTC) // ids 100..150
	events, err := c.ChannelHistory(context.Background(), 7, 5, since)
	require.NoError(t, err)

	require.Len(t, events, 51)
	assert.Equal(t, int64(100), events[0].MessageID)
	assert.Equal(t, int64(150), events[len(events)-1].MessageID)
	assert.Equal(t, int64(7), events[0].TenantID)
}

func TestChannelHistoryNotConfigured(t *testing.T) {
	c := New(Config{})
	_, err := c.ChannelHistory(context.Background(), 1, 2, time.Time{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
