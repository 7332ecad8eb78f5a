package sandbox

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	qrmodel "github.com/zhouzirui/z-pay/client/internal/model/qr"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 20 * time.Second
)

// handleWatch 推送单个链接的 LinkEvent：先发送当前状态，再推送每次变化直到终态
func (h *Handler) handleWatch(w http.ResponseWriter, r *http.Request) {
	linkID := chi.URLParam(r, "linkID")

	events, cancel, err := h.svc.Watch(linkID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	defer cancel()

	link, err := h.svc.Link(linkID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("link_id", linkID), zap.Error(err))
		return
	}
	defer conn.Close()

	// 持续读取客户端帧，保证 close 与 pong 控制消息被处理
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	current := qrmodel.LinkEvent{LinkID: link.ID, Status: link.Status, At: time.Now().UTC()}
	if !h.writeEvent(conn, current) || current.Status.Terminal() {
		h.closeNormal(conn)
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case ev := <-events:
			if !h.writeEvent(conn, ev) {
				return
			}
			if ev.Status.Terminal() {
				h.closeNormal(conn)
				return
			}
		}
	}
}

func (h *Handler) writeEvent(conn *websocket.Conn, ev qrmodel.LinkEvent) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		h.logger.Debug("websocket write failed", zap.String("link_id", ev.LinkID), zap.Error(err))
		return false
	}
	return true
}

func (h *Handler) closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
