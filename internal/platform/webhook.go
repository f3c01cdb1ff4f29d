package platform

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/ingest"
	"github.com/kestrelworks/guildsight/internal/logging"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Guildsight-Signature"

// Event types on the webhook wire.
const (
	eventMessageCreated = "message.created"
	eventMessageUpdated = "message.updated"
	eventMessageDeleted = "message.deleted"
	eventAsk            = "ask"
)

// EventSink receives decoded gateway events. *ingest.Ingestor satisfies it.
type EventSink interface {
	OnMessageCreated(ctx context.Context, ev ingest.MessageEvent) error
	OnMessageEdited(ctx context.Context, ev ingest.EditEvent) error
	OnMessagesDeleted(ctx context.Context, ev ingest.DeleteEvent) error
	OnAsk(ctx context.Context, ev ingest.AskEvent) error
}

// envelope is the outer webhook shape.
type envelope struct {
	Type     string          `json:"type"`
	TenantID int64           `json:"tenant_id"`
	Data     json.RawMessage `json:"data"`
}

type wireEdit struct {
	ID       int64  `json:"id"`
	Content  string `json:"content"`
	EditedAt string `json:"edited_at"`
}

type wireDelete struct {
	ChannelID  int64   `json:"channel_id"`
	MessageIDs []int64 `json:"message_ids"`
}

type wireAsk struct {
	ChannelID  int64   `json:"channel_id"`
	ChannelIDs []int64 `json:"channel_ids"`
	UserID     int64   `json:"user_id"`
	Query      string  `json:"query"`
	ReplyToken string  `json:"reply_token"`
}

// WebhookHandler builds the echo handler for inbound platform events.
// Deliveries must carry a valid body signature; unknown event types are
// acked and dropped so a platform rollout cannot wedge the delivery queue.
func WebhookHandler(sink EventSink, secret string, logger *logging.Logger) echo.HandlerFunc {
	log := logger.Named("webhook")
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
		}
		if !verifySignature(secret, body, c.Request().Header.Get(SignatureHeader)) {
			return echo.NewHTTPError(http.StatusUnauthorized, "bad signature")
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid envelope")
		}
		if env.TenantID == 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
		}

		if err := dispatch(ctx, sink, env); err != nil {
			log.Error(ctx, "event handling failed",
				zap.String("type", env.Type), zap.Int64("tenant_id", env.TenantID), zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "event handling failed")
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func dispatch(ctx context.Context, sink EventSink, env envelope) error {
	switch env.Type {
	case eventMessageCreated:
		var m wireMessage
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return err
		}
		ev, err := m.toEvent(env.TenantID)
		if err != nil {
			return err
		}
		return sink.OnMessageCreated(ctx, ev)

	case eventMessageUpdated:
		var e wireEdit
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return err
		}
		editedAt, err := time.Parse(time.RFC3339, e.EditedAt)
		if err != nil {
			editedAt = time.Now().UTC()
		}
		return sink.OnMessageEdited(ctx, ingest.EditEvent{
			MessageID: e.ID,
			TenantID:  env.TenantID,
			Content:   e.Content,
			EditedAt:  editedAt,
		})

	case eventMessageDeleted:
		var d wireDelete
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		return sink.OnMessagesDeleted(ctx, ingest.DeleteEvent{
			TenantID:   env.TenantID,
			ChannelID:  d.ChannelID,
			MessageIDs: d.MessageIDs,
		})

	case eventAsk:
		var a wireAsk
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return err
		}
		return sink.OnAsk(ctx, ingest.AskEvent{
			TenantID:   env.TenantID,
			ChannelID:  a.ChannelID,
			ChannelIDs: a.ChannelIDs,
			UserID:     a.UserID,
			Query:      a.Query,
			ReplyToken: a.ReplyToken,
		})
	}
	// Unknown types ack silently.
	return nil
}

func verifySignature(secret string, body []byte, header string) bool {
	if secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(header))
}

// Sign computes the signature header value for a body. Exported for the
// platform's delivery side and for tests.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
