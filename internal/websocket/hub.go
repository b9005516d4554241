package websocket

import (
	"context"
	"sync/atomic"

	"chatsync/pkg/logger"
)

// Hub maintains the set of active clients. 同一用户可以有多个连接（多个标签页或设备），
// 事件投递由每个连接自己的订阅完成，Hub 只负责登记和关闭。
type Hub struct {
	clients map[*Client]struct{}

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	count atomic.Int64
	done  chan struct{} // Run 退出后关闭
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Run 处理登记和注销，ctx 结束时关闭全部连接。
func (h *Hub) Run(ctx context.Context) {
	logger.Info("WebSocket hub started")
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			logger.Debug("client registered", "userId", client.UserID, "clients", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.count.Store(int64(len(h.clients)))
				logger.Debug("client unregistered", "userId", client.UserID, "clients", len(h.clients))
			}

		case <-ctx.Done():
			for client := range h.clients {
				client.shutdown()
			}
			logger.Info("WebSocket hub stopped", "closed", len(h.clients))
			h.clients = make(map[*Client]struct{})
			h.count.Store(0)
			return
		}
	}
}

// add 登记一个客户端；Hub 已停止时返回 false。
func (h *Hub) add(ctx context.Context, c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
