package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/internal/auth"
	"chatsync/internal/config"
	"chatsync/internal/identity"
	"chatsync/internal/imtypes"
	"chatsync/internal/notifier"
	"chatsync/internal/services"
	apperrors "chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

const sendBufferSize = 64

// Subscriber 是客户端需要的 notifier 子集。
type Subscriber interface {
	Subscribe(scope notifier.Scope, handler notifier.Handler) *notifier.Subscription
	Unsubscribe(sub *notifier.Subscription)
}

// ChatLookup 校验用户是否是会话参与者。services.RelationshipService 实现了它。
type ChatLookup interface {
	GetChat(ctx context.Context, chatID, viewerID uint) (*services.ChatSummary, error)
}

// Client is a middleman between the websocket connection and the notifier.
// 连接建立时订阅自己的会话列表 scope，之后按客户端的 watch/unwatch 帧增减会话 scope。
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	cfg     config.WebSocketConfig
	notify  Subscriber
	chats   ChatLookup
	session *auth.TokenSession
	gate    *identity.Gate

	// Buffered channel of outbound messages.
	send chan []byte
	quit chan struct{}
	once sync.Once

	// Authenticated User ID for this client.
	UserID uint

	mu       sync.Mutex
	indexSub *notifier.Subscription
	watched  map[uint]*notifier.Subscription
}

// ClientDeps 是建立一个客户端所需的依赖。
type ClientDeps struct {
	Hub      *Hub
	Notifier Subscriber
	Chats    ChatLookup
	Session  *auth.TokenSession
	Gate     *identity.Gate
	Config   config.WebSocketConfig
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

// ServeClient 升级连接并启动读写循环。调用方必须已经完成身份解析（gate 处于已认证状态）。
func ServeClient(ctx context.Context, deps ClientDeps, userID uint, w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写出了错误响应
		logger.Warn("websocket upgrade failed", "userId", userID, "error", err)
		deps.Gate.Close()
		return
	}

	c := &Client{
		hub:     deps.Hub,
		conn:    conn,
		cfg:     deps.Config,
		notify:  deps.Notifier,
		chats:   deps.Chats,
		session: deps.Session,
		gate:    deps.Gate,
		send:    make(chan []byte, sendBufferSize),
		quit:    make(chan struct{}),
		UserID:  userID,
		watched: make(map[uint]*notifier.Subscription),
	}
	if !c.hub.add(ctx, c) {
		conn.Close()
		c.gate.Close()
		return
	}

	c.mu.Lock()
	c.indexSub = c.notify.Subscribe(notifier.IndexScope(userID), c.deliver)
	c.mu.Unlock()

	cancelWatch := c.gate.OnSessionChange(func(s identity.Snapshot) {
		if s.State == identity.Unauthenticated {
			c.enqueue(imtypes.ServerFrame{Type: imtypes.FrameSession, State: string(s.State)})
			c.shutdown()
		}
	})

	logger.Info("client connected", "userId", userID)
	go c.writePump()
	go c.watchSession(cancelWatch)
	go c.readPump()
}

// shutdown 通知写循环发送关闭帧并断开连接，可重复调用。
func (c *Client) shutdown() {
	c.once.Do(func() { close(c.quit) })
}

// deliver 在 notifier 的投递 goroutine 中调用，不能阻塞。
func (c *Client) deliver(ev notifier.Event) {
	at := ev.At
	c.enqueue(imtypes.ServerFrame{
		Type:   imtypes.FrameEvent,
		Scope:  ev.Scope.String(),
		Kind:   string(ev.Kind),
		ChatID: ev.ChatID,
		At:     &at,
	})
}

func (c *Client) enqueue(frame imtypes.ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		logger.Error("failed to encode server frame", "userId", c.UserID, "error", err)
		return
	}
	select {
	case <-c.quit:
	case c.send <- data:
	default:
		// 客户端太慢：断开，重连后它会重新读取全部数据
		logger.Warn("client send buffer full, disconnecting", "userId", c.UserID)
		c.shutdown()
	}
}

// readPump 读取控制帧，连接断开时释放全部订阅。
func (c *Client) readPump() {
	defer func() {
		c.release()
		c.hub.remove(c)
		c.shutdown()
		c.conn.Close()
		logger.Info("client disconnected", "userId", c.UserID)
	}()

	pongWait := seconds(c.cfg.PongWaitSeconds, 60)
	if c.cfg.MaxMessageSizeBytes > 0 {
		c.conn.SetReadLimit(int64(c.cfg.MaxMessageSizeBytes))
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", "userId", c.UserID, "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame imtypes.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.enqueue(imtypes.ServerFrame{Type: imtypes.FrameError, Error: "invalid frame"})
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame imtypes.ClientFrame) {
	switch frame.Action {
	case imtypes.ActionWatch:
		if err := c.watch(frame.ChatID); err != nil {
			c.enqueue(imtypes.ServerFrame{Type: imtypes.FrameError, ChatID: frame.ChatID, Error: frameError(err)})
			return
		}
	case imtypes.ActionUnwatch:
		c.unwatch(frame.ChatID)
	default:
		c.enqueue(imtypes.ServerFrame{Type: imtypes.FrameError, Error: "unknown action"})
		return
	}
	c.enqueue(imtypes.ServerFrame{Type: imtypes.FrameAck, Kind: string(frame.Action), ChatID: frame.ChatID})
}

func frameError(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

// watch 订阅会话 scope；只有参与者可以订阅，重复订阅是无操作。
func (c *Client) watch(chatID uint) error {
	c.mu.Lock()
	_, ok := c.watched[chatID]
	c.mu.Unlock()
	if ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), seconds(c.cfg.WriteWaitSeconds, 10))
	defer cancel()
	if _, err := c.chats.GetChat(ctx, chatID, c.UserID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watched == nil {
		// 已经释放
		return nil
	}
	if _, ok := c.watched[chatID]; !ok {
		c.watched[chatID] = c.notify.Subscribe(notifier.ChatScope(chatID), c.deliver)
	}
	return nil
}

func (c *Client) unwatch(chatID uint) {
	c.mu.Lock()
	sub, ok := c.watched[chatID]
	delete(c.watched, chatID)
	c.mu.Unlock()
	if ok {
		c.notify.Unsubscribe(sub)
	}
}

// release 取消全部订阅并关闭身份网关。
func (c *Client) release() {
	c.mu.Lock()
	subs := make([]*notifier.Subscription, 0, len(c.watched)+1)
	for _, sub := range c.watched {
		subs = append(subs, sub)
	}
	if c.indexSub != nil {
		subs = append(subs, c.indexSub)
	}
	c.watched = nil
	c.indexSub = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.notify.Unsubscribe(sub)
	}
	c.gate.Close()
}

// watchSession 周期性地重新校验令牌；令牌在别处被注销时会话被清除，网关回调随即断开连接。
func (c *Client) watchSession(cancelWatch func()) {
	defer cancelWatch()
	ticker := time.NewTicker(seconds(c.cfg.SessionCheckSeconds, 60))
	defer ticker.Stop()
	for {
		select {
		case <-c.quit:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), seconds(c.cfg.WriteWaitSeconds, 10))
			_, err := c.session.CurrentSession(ctx)
			cancel()
			if err != nil {
				// 校验失败（例如黑名单不可用）时保持连接
				logger.Warn("session check failed", "userId", c.UserID, "error", err)
			}
		}
	}
}

// writePump pumps frames to the websocket connection.
func (c *Client) writePump() {
	writeWait := seconds(c.cfg.WriteWaitSeconds, 10)
	ticker := time.NewTicker(seconds(c.cfg.PingPeriodSeconds, 54))
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.shutdown()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.quit:
			c.drain(writeWait)
			return
		}
	}
}

// drain 先把已排队的帧写完（例如会话失效通知），再发送关闭帧。
func (c *Client) drain(writeWait time.Duration) {
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
