package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"Steward/backend/go/internal/models"

	"github.com/gorilla/websocket"
)

// subscriber 是一个 WebSocket 订阅者。写操作需要串行化。
type subscriber struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// defaultWriteWait 是单次写入的期限，不读数据的客户端会在超时后被移除。
const defaultWriteWait = 5 * time.Second

// Hub 管理订阅任务事件流的 WebSocket 连接，并实现 Sink。
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]*subscriber
	writeWait time.Duration
}

// NewHub 创建一个空的 Hub。
func NewHub() *Hub {
	return &Hub{subs: make(map[string]*subscriber), writeWait: defaultWriteWait}
}

// Add 注册一个连接。同一个 id 的旧连接会被关闭。
func (h *Hub) Add(id string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.subs[id]; ok {
		old.conn.Close()
	}
	h.subs[id] = &subscriber{conn: conn}
}

// Remove 关闭并移除一个连接。
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		sub.conn.Close()
		delete(h.subs, id)
	}
}

// Len 返回当前的订阅者数量。
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Send 把事件广播给所有订阅者。写失败的连接会被移除，不影响其他订阅者。
func (h *Hub) Send(_ context.Context, ev models.TaskEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("序列化任务事件失败: %w", err)
	}

	h.mu.RLock()
	targets := make(map[string]*subscriber, len(h.subs))
	for id, sub := range h.subs {
		targets[id] = sub
	}
	h.mu.RUnlock()

	for id, sub := range targets {
		sub.writeMu.Lock()
		err := sub.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
		if err == nil {
			err = sub.conn.WriteMessage(websocket.TextMessage, payload)
		}
		sub.writeMu.Unlock()
		if err != nil {
			h.Remove(id)
		}
	}
	return nil
}
