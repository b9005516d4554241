package notifier

import (
	"sort"
	"sync"

	"chatsync/pkg/logger"
)

// Handler 处理一个事件。同一事件可能被重复投递，处理函数必须是幂等的。
type Handler func(Event)

// Subscription 是订阅句柄，调用方在界面生命周期内持有，离开时交给 Unsubscribe 释放。
type Subscription struct {
	id      uint64
	scope   Scope
	handler Handler

	mu     sync.Mutex // 投递期间持有；Unsubscribe 通过它等待正在进行的投递结束
	active bool
}

// Scope returns the scope this subscription listens on.
func (s *Subscription) Scope() Scope { return s.scope }

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("notifier handler panicked", "scope", ev.Scope.String(), "kind", string(ev.Kind), "panic", r)
		}
	}()
	s.handler(ev)
}

// scopeQueue 每个有订阅者的 scope 一个队列和一个投递 goroutine，保证同一 scope 内按发布顺序投递。
type scopeQueue struct {
	events chan Event
	subs   map[uint64]*Subscription
}

// Broker is the in-process scope-based fan-out.
//
// Publishing never blocks: an event for a scope without subscribers is dropped,
// and an event for a scope whose queue is full is dropped with a warning.
// A handler must not call Unsubscribe on its own subscription synchronously;
// do it from another goroutine instead.
type Broker struct {
	mu        sync.RWMutex
	scopes    map[Scope]*scopeQueue
	queueSize int
	nextID    uint64
	closed    bool
	wg        sync.WaitGroup
}

// NewBroker creates a broker whose per-scope queues hold queueSize events.
func NewBroker(queueSize int) *Broker {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Broker{
		scopes:    make(map[Scope]*scopeQueue),
		queueSize: queueSize,
	}
}

// Subscribe registers handler for scope. The returned handle is inactive if the broker is closed.
func (b *Broker) Subscribe(scope Scope, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, scope: scope, handler: handler, active: !b.closed}
	if b.closed {
		return sub
	}

	q, ok := b.scopes[scope]
	if !ok {
		q = &scopeQueue{
			events: make(chan Event, b.queueSize),
			subs:   make(map[uint64]*Subscription),
		}
		b.scopes[scope] = q
		b.wg.Add(1)
		go b.run(q)
	}
	q.subs[sub.id] = sub
	return sub
}

// Publish queues ev for the subscribers of ev.Scope. It reports whether the event was queued.
func (b *Broker) Publish(ev Event) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	q, ok := b.scopes[ev.Scope]
	if !ok || b.closed {
		return false
	}
	select {
	case q.events <- ev:
		return true
	default:
		logger.Warn("notifier queue full, dropping event", "scope", ev.Scope.String(), "kind", string(ev.Kind))
		return false
	}
}

// Unsubscribe removes sub. When it returns, no delivery to sub is running and none will start.
// It is safe to call more than once.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	if q, ok := b.scopes[sub.scope]; ok {
		if _, found := q.subs[sub.id]; found {
			delete(q.subs, sub.id)
			if len(q.subs) == 0 {
				delete(b.scopes, sub.scope)
				close(q.events)
			}
		}
	}
	b.mu.Unlock()

	sub.mu.Lock()
	sub.active = false
	sub.mu.Unlock()
}

// SubscriberCount returns the number of live subscriptions on scope.
func (b *Broker) SubscriberCount(scope Scope) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if q, ok := b.scopes[scope]; ok {
		return len(q.subs)
	}
	return 0
}

// Close stops every scope goroutine after draining queued events.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for scope, q := range b.scopes {
		close(q.events)
		delete(b.scopes, scope)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Broker) run(q *scopeQueue) {
	defer b.wg.Done()
	for ev := range q.events {
		for _, sub := range b.snapshot(q) {
			sub.deliver(ev)
		}
	}
}

// snapshot 复制当前订阅者列表（按订阅顺序），投递时不持有 broker 锁。
func (b *Broker) snapshot(q *scopeQueue) []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := make([]*Subscription, 0, len(q.subs))
	for _, sub := range q.subs {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	return subs
}
