package services

import (
	"context"

	"chatsync/internal/storage"
)

// UnreadService 按需计算未读数。未读数不缓存在会话行里，调用方在收到变更事件后重新查询。
type UnreadService interface {
	UnreadCount(ctx context.Context, chatID, viewerID uint) (int64, error)
	// UnreadCountForIndex 返回用户每个会话的未读数；没有未读的会话也会出现在结果中（值为 0）。
	UnreadCountForIndex(ctx context.Context, userID uint) (map[uint]int64, error)
}

type unreadService struct {
	chatRepo storage.ChatRepository
	msgRepo  storage.MessageRepository
}

func NewUnreadService(chatRepo storage.ChatRepository, msgRepo storage.MessageRepository) UnreadService {
	return &unreadService{chatRepo: chatRepo, msgRepo: msgRepo}
}

func (s *unreadService) UnreadCount(ctx context.Context, chatID, viewerID uint) (int64, error) {
	return retryRead(ctx, "unread.count", func(ctx context.Context) (int64, error) {
		chat, err := s.chatRepo.GetByID(ctx, chatID)
		if err != nil {
			return 0, storeErr(err, ErrChatNotFound)
		}
		if !chat.HasParticipant(viewerID) {
			return 0, ErrNotParticipant
		}
		n, err := s.msgRepo.CountUnread(ctx, chatID, viewerID)
		return n, storeErr(err, nil)
	})
}

func (s *unreadService) UnreadCountForIndex(ctx context.Context, userID uint) (map[uint]int64, error) {
	return retryRead(ctx, "unread.index", func(ctx context.Context) (map[uint]int64, error) {
		chatIDs, err := s.chatRepo.ListIDsForUser(ctx, userID)
		if err != nil {
			return nil, storeErr(err, nil)
		}
		counts, err := s.msgRepo.CountUnreadByChat(ctx, userID)
		if err != nil {
			return nil, storeErr(err, nil)
		}
		out := make(map[uint]int64, len(chatIDs))
		for _, id := range chatIDs {
			out[id] = counts[id]
		}
		return out, nil
	})
}
