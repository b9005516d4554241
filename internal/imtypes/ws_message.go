package imtypes

import "time"

// ClientAction is what a websocket client may ask the chat server to do.
type ClientAction string

const (
	ActionWatch   ClientAction = "watch"   // 订阅某个会话的变更
	ActionUnwatch ClientAction = "unwatch" // 取消订阅
)

// ClientFrame 是客户端发往服务器的控制帧。
type ClientFrame struct {
	Action ClientAction `json:"action"`
	ChatID uint         `json:"chatId"`
}

// ServerFrameType distinguishes pushes from replies.
type ServerFrameType string

const (
	FrameEvent   ServerFrameType = "event"   // 变更通知：客户端应重新读取对应数据
	FrameAck     ServerFrameType = "ack"     // watch/unwatch 成功
	FrameError   ServerFrameType = "error"   // 控制帧被拒绝
	FrameSession ServerFrameType = "session" // 会话状态变化 (例如被注销)
)

// ServerFrame defines the structure pushed to clients over WebSocket.
// 事件只是失效信号，不携带消息正文。
type ServerFrame struct {
	Type   ServerFrameType `json:"type"`
	Scope  string          `json:"scope,omitempty"`
	Kind   string          `json:"kind,omitempty"`
	ChatID uint            `json:"chatId,omitempty"`
	At     *time.Time      `json:"at,omitempty"`
	Error  string          `json:"error,omitempty"`
	State  string          `json:"state,omitempty"`
}
