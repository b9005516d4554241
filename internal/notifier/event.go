package notifier

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ScopeKind 区分会话级和会话列表级的订阅范围。
type ScopeKind string

const (
	ScopeChat  ScopeKind = "chat"  // 某个会话内的变化（新消息、已读）
	ScopeIndex ScopeKind = "index" // 某个用户的会话列表（预览、未读角标、新会话）
)

// Scope is the unit of subscription and of ordering.
type Scope struct {
	Kind ScopeKind
	ID   uint
}

// ChatScope is the scope of a single chat.
func ChatScope(chatID uint) Scope { return Scope{Kind: ScopeChat, ID: chatID} }

// IndexScope is the scope of a user's chat list.
func IndexScope(userID uint) Scope { return Scope{Kind: ScopeIndex, ID: userID} }

func (s Scope) String() string {
	return string(s.Kind) + ":" + strconv.FormatUint(uint64(s.ID), 10)
}

// ParseScope is the inverse of Scope.String.
func ParseScope(s string) (Scope, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return Scope{}, fmt.Errorf("invalid scope %q", s)
	}
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n == 0 {
		return Scope{}, fmt.Errorf("invalid scope id in %q", s)
	}
	switch ScopeKind(kind) {
	case ScopeChat, ScopeIndex:
	default:
		return Scope{}, fmt.Errorf("unknown scope kind in %q", s)
	}
	return Scope{Kind: ScopeKind(kind), ID: uint(n)}, nil
}

func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Scope) UnmarshalText(b []byte) error {
	parsed, err := ParseScope(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// EventKind 变更事件的种类。
type EventKind string

const (
	MessageCreated EventKind = "message.created"
	MessagesRead   EventKind = "messages.read"
	ChatCreated    EventKind = "chat.created"
)

// Event 是一个失效信号：订阅者收到后应重新读取数据，事件本身不携带消息内容。
type Event struct {
	Scope   Scope     `json:"scope"`
	Kind    EventKind `json:"kind"`
	ChatID  uint      `json:"chatId"`
	ActorID uint      `json:"actorId,omitempty"`
	At      time.Time `json:"at"`
	Origin  string    `json:"origin,omitempty"` // 发布事件的实例 ID
}

// Encode serializes an event for a change feed.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Decode parses an event received from a change feed.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode change event: %w", err)
	}
	return ev, nil
}
