package services

import (
	"context"
	"io"
	"time"

	"gorm.io/gorm"

	"chatsync/internal/imtypes"
	"chatsync/internal/models"
	"chatsync/internal/notifier"
	"chatsync/internal/security"
	"chatsync/internal/storage"
	"chatsync/pkg/logger"
)

// MaxContentRunes 单条消息正文的最大字符数。
const MaxContentRunes = 4000

// AppendInput 是追加一条消息所需的参数。
type AppendInput struct {
	ChatID   uint
	SenderID uint
	Content  *string // 纯媒体消息可以为 nil
	Type     models.MessageType
	MediaURL *string
}

// MediaInput 描述一条需要先上传文件的媒体消息。
type MediaInput struct {
	ChatID   uint
	SenderID uint
	Type     models.MessageType
	FileName string
	Data     io.Reader
}

// MessageService 定义了消息相关服务的接口。
type MessageService interface {
	// Append 在一个事务内写入消息并更新会话快照，提交后发布变更事件。失败不会自动重试。
	Append(ctx context.Context, in AppendInput) (*models.Message, error)
	// AppendMedia 先上传文件，再以文件名为正文追加消息。
	AppendMedia(ctx context.Context, in MediaInput) (*models.Message, error)
	// MarkRead 把会话中发给 readerID 的未读消息全部置为已读，返回变更条数；没有未读时返回 0。
	MarkRead(ctx context.Context, chatID, readerID uint) (int64, error)
	// List 返回会话的全部消息，按时间升序、id 升序。
	List(ctx context.Context, chatID, viewerID uint) ([]models.Message, error)
	// ListPage 返回 beforeID 之前的最后 limit 条消息（仍为升序）。
	ListPage(ctx context.Context, chatID, viewerID, beforeID uint, limit int) ([]models.Message, error)
}

// messageService 是 MessageService 的实现。
type messageService struct {
	db        *gorm.DB
	chatRepo  storage.ChatRepository
	msgRepo   storage.MessageRepository
	media     imtypes.MediaStore
	publisher ChangePublisher
	now       func() time.Time
}

// NewMessageService 创建一个新的 MessageService 实例。now 为 nil 时使用当前 UTC 时间。
func NewMessageService(db *gorm.DB, chatRepo storage.ChatRepository, msgRepo storage.MessageRepository,
	media imtypes.MediaStore, publisher ChangePublisher, now func() time.Time) MessageService {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &messageService{
		db:        db,
		chatRepo:  chatRepo,
		msgRepo:   msgRepo,
		media:     media,
		publisher: publisher,
		now:       now,
	}
}

// buildMessage 在任何写入之前完成校验和清洗。
func buildMessage(in AppendInput) (*models.Message, error) {
	if !in.Type.Valid() {
		return nil, ErrInvalidType
	}

	var content *string
	if in.Content != nil {
		cleaned := security.SanitizeText(*in.Content)
		if security.RuneLen(cleaned) > MaxContentRunes {
			return nil, ErrContentTooLong
		}
		if cleaned != "" {
			content = &cleaned
		}
	}

	var mediaURL *string
	if in.MediaURL != nil && *in.MediaURL != "" {
		u := *in.MediaURL
		mediaURL = &u
	}

	if in.Type.IsMedia() {
		if mediaURL == nil {
			return nil, ErrMissingMedia
		}
	} else {
		if mediaURL != nil {
			return nil, ErrUnexpectedMedia
		}
		if content == nil {
			return nil, ErrEmptyContent
		}
	}

	return &models.Message{
		SenderID: in.SenderID,
		Content:  content,
		Type:     in.Type,
		MediaURL: mediaURL,
	}, nil
}

func (s *messageService) Append(ctx context.Context, in AppendInput) (*models.Message, error) {
	msg, err := buildMessage(in)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chats := s.chatRepo.WithTx(tx)
		chat, err := chats.GetByID(ctx, in.ChatID)
		if err != nil {
			return storeErr(err, ErrChatNotFound)
		}
		if !chat.HasParticipant(in.SenderID) {
			return ErrNotParticipant
		}

		msg.ChatID = chat.ID
		msg.ReceiverID = chat.OtherParticipant(in.SenderID)
		msg.CreatedAt = s.now()
		if err := s.msgRepo.WithTx(tx).Create(ctx, msg); err != nil {
			return storeErr(err, nil)
		}
		// 快照无条件覆盖：它只是列表展示用的缓存
		return storeErr(chats.UpdateSnapshot(ctx, chat.ID, msg.Snapshot(), msg.CreatedAt), ErrChatNotFound)
	})
	if err != nil {
		return nil, storeErr(err, nil)
	}

	logger.Debug("message appended", "chatId", msg.ChatID, "messageId", msg.ID, "type", string(msg.Type))
	publishAfterCommit(ctx, s.publisher, notifier.MessageCreated, msg.ChatID, msg.SenderID,
		notifier.ChatScope(msg.ChatID))
	publishAfterCommit(ctx, s.publisher, notifier.MessageCreated, msg.ChatID, msg.SenderID,
		notifier.IndexScope(msg.SenderID), notifier.IndexScope(msg.ReceiverID))
	return msg, nil
}

func (s *messageService) AppendMedia(ctx context.Context, in MediaInput) (*models.Message, error) {
	if !in.Type.IsMedia() {
		return nil, ErrInvalidType
	}
	if in.Data == nil || in.FileName == "" {
		return nil, ErrMissingMedia
	}
	// 先确认发送者有权在该会话中发送，避免为无效请求上传文件
	if _, err := s.participantChat(ctx, in.ChatID, in.SenderID); err != nil {
		return nil, err
	}

	path := storage.MediaPath(storage.ChatMediaPrefix, in.SenderID, s.now(), in.FileName)
	url, err := s.media.Upload(ctx, in.Data, path)
	if err != nil {
		logger.Warn("media upload failed", "chatId", in.ChatID, "senderId", in.SenderID, "error", err)
		return nil, err
	}

	name := in.FileName
	msg, err := s.Append(ctx, AppendInput{
		ChatID:   in.ChatID,
		SenderID: in.SenderID,
		Content:  &name,
		Type:     in.Type,
		MediaURL: &url,
	})
	if err != nil {
		discardUpload(ctx, s.media, path, err)
		return nil, err
	}
	return msg, nil
}

// discardUpload 删除已经上传、但没有被任何记录引用的对象；删除失败时记录路径以便人工清理。
func discardUpload(ctx context.Context, media imtypes.MediaStore, path string, cause error) {
	if err := media.Delete(context.WithoutCancel(ctx), path); err != nil {
		logger.Error("orphaned media object", "path", path, "cause", cause, "error", err)
		return
	}
	logger.Warn("removed unreferenced media object", "path", path, "cause", cause)
}

func (s *messageService) MarkRead(ctx context.Context, chatID, readerID uint) (int64, error) {
	var transitioned int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, err := s.chatRepo.WithTx(tx).GetByID(ctx, chatID)
		if err != nil {
			return storeErr(err, ErrChatNotFound)
		}
		if !chat.HasParticipant(readerID) {
			return ErrNotParticipant
		}
		transitioned, err = s.msgRepo.WithTx(tx).MarkRead(ctx, chatID, readerID)
		return storeErr(err, nil)
	})
	if err != nil {
		return 0, storeErr(err, nil)
	}
	if transitioned == 0 {
		return 0, nil
	}

	publishAfterCommit(ctx, s.publisher, notifier.MessagesRead, chatID, readerID, notifier.ChatScope(chatID))
	// 读者自己的会话列表需要刷新未读角标
	publishAfterCommit(ctx, s.publisher, notifier.MessagesRead, chatID, readerID, notifier.IndexScope(readerID))
	return transitioned, nil
}

func (s *messageService) List(ctx context.Context, chatID, viewerID uint) ([]models.Message, error) {
	return s.ListPage(ctx, chatID, viewerID, 0, 0)
}

func (s *messageService) ListPage(ctx context.Context, chatID, viewerID, beforeID uint, limit int) ([]models.Message, error) {
	if _, err := s.participantChat(ctx, chatID, viewerID); err != nil {
		return nil, err
	}
	return retryRead(ctx, "messages.list", func(ctx context.Context) ([]models.Message, error) {
		msgs, err := s.msgRepo.ListByChat(ctx, chatID, beforeID, limit)
		return msgs, storeErr(err, nil)
	})
}

func (s *messageService) participantChat(ctx context.Context, chatID, userID uint) (*models.Chat, error) {
	chat, err := retryRead(ctx, "chats.get", func(ctx context.Context) (*models.Chat, error) {
		c, err := s.chatRepo.GetByID(ctx, chatID)
		return c, storeErr(err, ErrChatNotFound)
	})
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return chat, nil
}
