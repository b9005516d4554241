package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"chatsync/internal/models"
	"chatsync/internal/notifier"
	"chatsync/internal/storage"
	"chatsync/pkg/logger"
)

// ChatSummary 是会话列表中的一行：会话、对方的公开资料以及查看者的未读数。
type ChatSummary struct {
	models.Chat
	Friend models.UserBasicInfo `json:"friend"`
	Unread int64                `json:"unread"`
}

// BlockedUserView 屏蔽列表中的一行。
type BlockedUserView struct {
	models.UserBasicInfo
	BlockedAt time.Time `json:"blockedAt"`
}

// RelationshipService 管理好友关系、会话列表和屏蔽列表。
type RelationshipService interface {
	// AddFriend 原子地创建双向好友关系和会话，返回会话 id。
	// 已经是好友时返回已有会话 id 以及 ErrAlreadyFriends；并发的双方请求收敛到同一个会话。
	AddFriend(ctx context.Context, requesterID, targetID uint) (uint, error)
	ListFriends(ctx context.Context, userID uint) ([]models.UserBasicInfo, error)
	ListFriendIDs(ctx context.Context, userID uint) ([]uint, error)
	ListChats(ctx context.Context, userID uint) ([]ChatSummary, error)
	GetChat(ctx context.Context, chatID, viewerID uint) (*ChatSummary, error)

	Block(ctx context.Context, blockerID, blockedID uint) error
	Unblock(ctx context.Context, blockerID, blockedID uint) error
	ListBlocked(ctx context.Context, blockerID uint) ([]BlockedUserView, error)
}

type relationshipService struct {
	db             *gorm.DB
	userRepo       storage.UserRepository
	profileRepo    storage.ProfileRepository
	friendshipRepo storage.FriendshipRepository
	chatRepo       storage.ChatRepository
	blockRepo      storage.BlockedUserRepository
	unread         UnreadService
	publisher      ChangePublisher
}

// NewRelationshipService 创建一个新的 RelationshipService 实例。
func NewRelationshipService(db *gorm.DB, userRepo storage.UserRepository, profileRepo storage.ProfileRepository,
	friendshipRepo storage.FriendshipRepository, chatRepo storage.ChatRepository, blockRepo storage.BlockedUserRepository,
	unread UnreadService, publisher ChangePublisher) RelationshipService {
	return &relationshipService{
		db:             db,
		userRepo:       userRepo,
		profileRepo:    profileRepo,
		friendshipRepo: friendshipRepo,
		chatRepo:       chatRepo,
		blockRepo:      blockRepo,
		unread:         unread,
		publisher:      publisher,
	}
}

func (s *relationshipService) AddFriend(ctx context.Context, requesterID, targetID uint) (uint, error) {
	if requesterID == targetID {
		return 0, ErrSelfFriend
	}

	exists, err := retryRead(ctx, "users.exists", func(ctx context.Context) (bool, error) {
		ok, err := s.userRepo.Exists(ctx, targetID)
		return ok, storeErr(err, nil)
	})
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrUserNotFound
	}

	blocked, err := s.blockRepo.IsBlockedEitherWay(ctx, requesterID, targetID)
	if err != nil {
		return 0, storeErr(err, nil)
	}
	if blocked {
		return 0, ErrBlocked
	}

	friends, err := s.friendshipRepo.AreMutualFriends(ctx, requesterID, targetID)
	if err != nil {
		return 0, storeErr(err, nil)
	}
	if friends {
		chat, err := s.chatRepo.GetByPair(ctx, requesterID, targetID)
		if err == nil {
			return chat.ID, ErrAlreadyFriends
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, storeErr(err, nil)
		}
		// 好友关系存在但会话缺失：走下面的创建流程补齐
	}

	var (
		chat    *models.Chat
		created bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		// 唯一索引 idx_chat_pair 决定谁是写入者；失败的一方读取已提交的会话
		chat, created, err = s.chatRepo.WithTx(tx).CreateIfAbsent(ctx, requesterID, targetID)
		if err != nil {
			return storeErr(err, nil)
		}
		return storeErr(s.friendshipRepo.WithTx(tx).CreatePair(ctx, requesterID, targetID), nil)
	})
	if err != nil {
		return 0, storeErr(err, nil)
	}

	if created {
		logger.Info("friendship and chat created", "chatId", chat.ID, "requesterId", requesterID, "targetId", targetID)
		publishAfterCommit(ctx, s.publisher, notifier.ChatCreated, chat.ID, requesterID,
			notifier.IndexScope(requesterID), notifier.IndexScope(targetID))
	}
	return chat.ID, nil
}

func (s *relationshipService) ListFriendIDs(ctx context.Context, userID uint) ([]uint, error) {
	return retryRead(ctx, "friends.ids", func(ctx context.Context) ([]uint, error) {
		ids, err := s.friendshipRepo.GetFriendIDs(ctx, userID)
		return ids, storeErr(err, nil)
	})
}

func (s *relationshipService) ListFriends(ctx context.Context, userID uint) ([]models.UserBasicInfo, error) {
	ids, err := s.ListFriendIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	profiles, err := s.profiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	friends := make([]models.UserBasicInfo, 0, len(ids))
	for _, id := range ids {
		friends = append(friends, models.BasicInfo(id, profiles[id]))
	}
	return friends, nil
}

func (s *relationshipService) ListChats(ctx context.Context, userID uint) ([]ChatSummary, error) {
	chats, err := retryRead(ctx, "chats.list", func(ctx context.Context) ([]models.Chat, error) {
		c, err := s.chatRepo.ListForUser(ctx, userID)
		return c, storeErr(err, nil)
	})
	if err != nil {
		return nil, err
	}

	others := make([]uint, 0, len(chats))
	for i := range chats {
		others = append(others, chats[i].OtherParticipant(userID))
	}
	profiles, err := s.profiles(ctx, others)
	if err != nil {
		return nil, err
	}
	unread, err := s.unread.UnreadCountForIndex(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]ChatSummary, 0, len(chats))
	for i := range chats {
		other := others[i]
		out = append(out, ChatSummary{
			Chat:   chats[i],
			Friend: models.BasicInfo(other, profiles[other]),
			Unread: unread[chats[i].ID],
		})
	}
	return out, nil
}

func (s *relationshipService) GetChat(ctx context.Context, chatID, viewerID uint) (*ChatSummary, error) {
	chat, err := retryRead(ctx, "chats.get", func(ctx context.Context) (*models.Chat, error) {
		c, err := s.chatRepo.GetByID(ctx, chatID)
		return c, storeErr(err, ErrChatNotFound)
	})
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(viewerID) {
		return nil, ErrNotParticipant
	}

	other := chat.OtherParticipant(viewerID)
	profiles, err := s.profiles(ctx, []uint{other})
	if err != nil {
		return nil, err
	}
	unread, err := s.unread.UnreadCount(ctx, chatID, viewerID)
	if err != nil {
		return nil, err
	}
	return &ChatSummary{Chat: *chat, Friend: models.BasicInfo(other, profiles[other]), Unread: unread}, nil
}

func (s *relationshipService) Block(ctx context.Context, blockerID, blockedID uint) error {
	if blockerID == blockedID {
		return ErrSelfBlock
	}
	exists, err := s.userRepo.Exists(ctx, blockedID)
	if err != nil {
		return storeErr(err, nil)
	}
	if !exists {
		return ErrUserNotFound
	}
	return storeErr(s.blockRepo.Create(ctx, blockerID, blockedID), nil)
}

// Unblock 是幂等的：解除一个不存在的屏蔽不会报错。
func (s *relationshipService) Unblock(ctx context.Context, blockerID, blockedID uint) error {
	_, err := s.blockRepo.Delete(ctx, blockerID, blockedID)
	return storeErr(err, nil)
}

func (s *relationshipService) ListBlocked(ctx context.Context, blockerID uint) ([]BlockedUserView, error) {
	rows, err := retryRead(ctx, "blocks.list", func(ctx context.Context) ([]models.BlockedUser, error) {
		r, err := s.blockRepo.ListByBlocker(ctx, blockerID)
		return r, storeErr(err, nil)
	})
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.BlockedID)
	}
	profiles, err := s.profiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]BlockedUserView, 0, len(rows))
	for _, r := range rows {
		out = append(out, BlockedUserView{
			UserBasicInfo: models.BasicInfo(r.BlockedID, profiles[r.BlockedID]),
			BlockedAt:     r.CreatedAt,
		})
	}
	return out, nil
}

func (s *relationshipService) profiles(ctx context.Context, ids []uint) (map[uint]*models.Profile, error) {
	return retryRead(ctx, "profiles.batch", func(ctx context.Context) (map[uint]*models.Profile, error) {
		p, err := s.profileRepo.GetByUserIDs(ctx, ids)
		return p, storeErr(err, nil)
	})
}
