package services

import (
	"context"

	"chatsync/internal/notifier"
)

// ChangePublisher is the slice of the notifier the write paths need.
type ChangePublisher interface {
	Publish(ctx context.Context, scope notifier.Scope, kind notifier.EventKind, chatID, actorID uint)
}

// publishAfterCommit 发布事件时不再受调用方取消的影响：变更已经提交，信号必须发出。
func publishAfterCommit(ctx context.Context, pub ChangePublisher, kind notifier.EventKind, chatID, actorID uint, scopes ...notifier.Scope) {
	if pub == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, scope := range scopes {
		pub.Publish(ctx, scope, kind, chatID, actorID)
	}
}
