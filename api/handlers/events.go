package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/storeflow/api"
	"github.com/BaSui01/storeflow/registry"
)

const (
	eventWriteTimeout = 5 * time.Second
	eventPingInterval = 30 * time.Second
)

// =============================================================================
// 📡 Events Handler (WebSocket)
// =============================================================================

// EventsHandler 把注册表的 post-* 事件推送给 WebSocket 客户端
type EventsHandler struct {
	broadcaster    *registry.Broadcaster
	originPatterns []string
	pingInterval   time.Duration
	logger         *zap.Logger
}

// NewEventsHandler 创建事件流处理器。originPatterns 为空时只接受同源请求。
func NewEventsHandler(b *registry.Broadcaster, originPatterns []string, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{
		broadcaster:    b,
		originPatterns: originPatterns,
		pingInterval:   eventPingInterval,
		logger:         logger.With(zap.String("handler", "events")),
	}
}

// HandleStream 升级为 WebSocket 并持续推送事件
// @Summary 注册表事件流
// @Tags events
// @Param type query string false "只推送这些事件类型，逗号分隔"
// @Router /api/v1/events [get]
func (h *EventsHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	filter := parseEventFilter(r.URL.Query().Get("type"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	events, unsubscribe := h.broadcaster.Subscribe()
	defer unsubscribe()

	// 客户端只读；CloseRead 处理控制帧并在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	h.logger.Debug("event subscriber connected", zap.String("remote", r.RemoteAddr))
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}

		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if len(filter) > 0 && !filter[string(ev.Type)] {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(writeCtx, conn, toEventMessage(ev))
			cancel()
			if err != nil {
				h.logger.Debug("event write failed", zap.Error(err))
				return
			}
		}
	}
}

func parseEventFilter(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	filter := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			filter[part] = true
		}
	}
	return filter
}

func toEventMessage(ev registry.Event) api.EventMessage {
	keys := make([]string, 0, len(ev.Stores))
	for _, c := range ev.Stores {
		keys = append(keys, c.Key().String())
	}
	return api.EventMessage{
		ID:        ev.ID,
		Type:      string(ev.Type),
		Keys:      keys,
		User:      ev.Summary.User,
		Summary:   ev.Summary.Summary,
		Timestamp: ev.Timestamp,
	}
}
