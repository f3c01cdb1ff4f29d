package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/kestrelworks/guildsight/internal/llm"
	"github.com/kestrelworks/guildsight/internal/queue"
	"github.com/kestrelworks/guildsight/internal/store"
	"github.com/kestrelworks/guildsight/internal/tenancy"
	"github.com/kestrelworks/guildsight/internal/thematic"
)

// apiKeysSetting is the settings row holding the provider key map.
const apiKeysSetting = "llm_api_keys"

// tenantScope parses the :id segment and carries the tenant through the
// request context. Handlers under the group read it back with tenantID;
// a request whose context lacks a tenant fails closed.
func tenantScope(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id == 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant id")
		}
		ctx := tenancy.WithTenant(c.Request().Context(), tenancy.Tenant{ID: id})
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func tenantID(c echo.Context) (int64, error) {
	t, err := tenancy.FromContext(c.Request().Context())
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid tenant id")
	}
	return t.ID, nil
}

// handleTenantHealth reports the store/index sync projection.
func (s *Server) handleTenantHealth(c echo.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	health, err := s.deps.Health.Health(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "health unavailable")
	}
	return c.JSON(http.StatusOK, health)
}

func (s *Server) handleChannels(c echo.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	channels, err := s.deps.Store.Channels(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "channel listing failed")
	}
	out := make([]ChannelInfo, len(channels))
	for i, ch := range channels {
		out[i] = ChannelInfo{ID: ch.ID, Name: ch.Name, IsIndexed: ch.IsIndexed}
	}
	return c.JSON(http.StatusOK, out)
}

// handleChannelIndex flips a channel's indexing flag. Turning indexing on
// queues a reindex pass so the backlog becomes searchable.
func (s *Server) handleChannelIndex(c echo.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	channelID, err := strconv.ParseInt(c.Param("cid"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid channel id")
	}
	var req ChannelIndexRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()

	if err := s.deps.Store.SetChannelIndexed(ctx, id, channelID, req.Indexed); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "channel update failed")
	}
	if req.Indexed {
		task, err := queue.NewTask(queue.KindReindex, id, queue.ReindexPayload{ChannelID: channelID})
		if err == nil {
			err = s.deps.Queue.Enqueue(ctx, task)
		}
		if err != nil {
			s.logger.Warn(ctx, "reindex enqueue failed",
				zap.Int64("tenant_id", id), zap.Int64("channel_id", channelID), zap.Error(err))
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStats(c echo.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	stats, err := s.deps.Store.GetTenantStats(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "stats unavailable")
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleTimeseries(c echo.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	days, _ := strconv.Atoi(c.QueryParam("days"))
	if days <= 0 || days > 365 {
		days = 30
	}
	series, err := s.deps.Store.MessageTimeseries(c.Request().Context(), id, days)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "timeseries unavailable")
	}
	return c.JSON(http.StatusOK, series)
}

func (s *Server) handleTopChannels(c echo.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	top, err := s.deps.Store.TopChannels(c.Request().Context(), id, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "top channels unavailable")
	}
	return c.JSON(http.StatusOK, top)
}

// handleTopics serves the cached theme analysis; 404 until the first
// rebuild lands.
func (s *Server) handleTopics(c echo.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	analysis, err := s.deps.Topics.Cached(id)
	if errors.Is(err, thematic.ErrNoAnalysis) {
		return echo.NewHTTPError(http.StatusNotFound, "no topic analysis yet; trigger a rebuild")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "topic cache unavailable")
	}
	return c.JSON(http.StatusOK, analysis)
}

// handleTopicsRebuild queues a rebuild; the cache swaps atomically when
// the worker finishes.
func (s *Server) handleTopicsRebuild(c echo.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	task, err := queue.NewTask(queue.KindAnalyzeTopics, id, struct{}{})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "rebuild enqueue failed")
	}
	if err := s.deps.Queue.Enqueue(c.Request().Context(), task); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "rebuild enqueue failed")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleGetDirective(c echo.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	directive, err := s.deps.Store.GetDirective(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "directive unavailable")
	}
	return c.JSON(http.StatusOK, DirectiveBody{Directive: directive})
}

func (s *Server) handlePutDirective(c echo.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	var req DirectiveBody
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.deps.Store.SetDirective(c.Request().Context(), id, req.Directive); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "directive update failed")
	}
	return c.NoContent(http.StatusNoContent)
}

// handleForgetTenant queues full tenant erasure on the high lane.
func (s *Server) handleForgetTenant(c echo.Context) error {
	id, err := tenantID(c)
	if err != nil {
		return err
	}
	task, err := queue.NewTask(queue.KindPurgeTenant, id, struct{}{})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "erasure enqueue failed")
	}
	if err := s.deps.Queue.EnqueueWithPriority(c.Request().Context(), task, queue.PriorityHigh); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "erasure enqueue failed")
	}
	s.logger.Info(c.Request().Context(), "tenant erasure queued", zap.Int64("tenant_id", id))
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleGetProvider(c echo.Context) error {
	client := s.deps.Provider.Client()
	if client == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no provider configured")
	}
	return c.JSON(http.StatusOK, ProviderBody{Provider: client.Provider(), Model: client.Model()})
}

// handlePutProvider hot-swaps the completion client; a failed build keeps
// the current one.
func (s *Server) handlePutProvider(c echo.Context) error {
	var req ProviderBody
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.deps.Provider.Apply(c.Request().Context(), llm.Overrides{Provider: req.Provider, Model: req.Model}); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "provider rejected: "+err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// handleGetAPIKeys returns stored keys masked to first and last four
// characters; full values never leave the settings table.
func (s *Server) handleGetAPIKeys(c echo.Context) error {
	keys, err := s.loadAPIKeys(c.Request().Context())
	if err != nil {
		return err
	}
	masked := make(map[string]string, len(keys))
	for provider, key := range keys {
		masked[provider] = maskSecret(key)
	}
	return c.JSON(http.StatusOK, APIKeysBody{Keys: masked})
}

// handlePutAPIKeys merges the submitted keys into the stored map; an empty
// value removes that provider's key.
func (s *Server) handlePutAPIKeys(c echo.Context) error {
	var req APIKeysBody
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()

	keys, err := s.loadAPIKeys(ctx)
	if err != nil {
		return err
	}
	for provider, key := range req.Keys {
		if key == "" {
			delete(keys, provider)
			continue
		}
		keys[provider] = key
	}
	merged, err := json.Marshal(keys)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "settings encode failed")
	}
	if err := s.deps.Store.PutSetting(ctx, apiKeysSetting, string(merged)); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "settings update failed")
	}
	return c.NoContent(http.StatusNoContent)
}

// loadAPIKeys reads the stored key map; a missing row is an empty map.
func (s *Server) loadAPIKeys(ctx context.Context) (map[string]string, error) {
	keys := make(map[string]string)
	raw, err := s.deps.Store.GetSetting(ctx, apiKeysSetting)
	if errors.Is(err, store.ErrNotFound) {
		return keys, nil
	}
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "settings unavailable")
	}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &keys); err != nil {
			return nil, echo.NewHTTPError(http.StatusInternalServerError, "settings corrupted")
		}
	}
	return keys, nil
}

// maskSecret keeps the first and last four characters. Short secrets mask
// entirely so nothing useful leaks.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
