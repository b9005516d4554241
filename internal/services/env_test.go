package services

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"chatsync/internal/auth"
	"chatsync/internal/config"
	"chatsync/internal/models"
	"chatsync/internal/notifier"
	"chatsync/internal/storage"
)

type publishedEvent struct {
	Scope   notifier.Scope
	Kind    notifier.EventKind
	ChatID  uint
	ActorID uint
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, scope notifier.Scope, kind notifier.EventKind, chatID, actorID uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Scope: scope, Kind: kind, ChatID: chatID, ActorID: actorID})
}

func (p *recordingPublisher) take() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.events
	p.events = nil
	return out
}

// testClock 每次读取后前进一秒，保证同一会话内的消息时间严格递增。
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.t
	c.t = c.t.Add(time.Second)
	return cur
}

func (c *testClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type memMedia struct {
	mu          sync.Mutex
	files       map[string][]byte
	deleted     []string
	fail        error
	afterUpload func() // 上传成功后调用，用来模拟上传与写库之间发生的事情
}

func (m *memMedia) Upload(_ context.Context, r io.Reader, objectPath string) (string, error) {
	if m.fail != nil {
		return "", m.fail
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	m.mu.Lock()
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	m.files[objectPath] = buf.Bytes()
	hook := m.afterUpload
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return "https://cdn.test/" + objectPath, nil
}

func (m *memMedia) Delete(ctx context.Context, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, objectPath)
	m.deleted = append(m.deleted, objectPath)
	return nil
}

var testAuthConfig = config.AuthConfig{
	JWTSecretKey: "services-test-secret-key-0123456789",
	JWTExpiry:    time.Hour,
}

type testEnv struct {
	db        *gorm.DB
	userRepo  storage.UserRepository
	msgRepo   storage.MessageRepository
	chatRepo  storage.ChatRepository
	pub       *recordingPublisher
	clock     *testClock
	media     *memMedia
	blacklist *auth.MemoryTokenBlacklist

	messages  MessageService
	relations RelationshipService
	unread    UnreadService
	users     UserService
	auth      AuthService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	env := &testEnv{
		db:        db,
		userRepo:  storage.NewGormUserRepository(db),
		msgRepo:   storage.NewGormMessageRepository(db),
		chatRepo:  storage.NewGormChatRepository(db),
		pub:       &recordingPublisher{},
		clock:     &testClock{t: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)},
		media:     &memMedia{},
		blacklist: auth.NewMemoryTokenBlacklist(),
	}
	profileRepo := storage.NewGormProfileRepository(db)
	env.unread = NewUnreadService(env.chatRepo, env.msgRepo)
	env.messages = NewMessageService(db, env.chatRepo, env.msgRepo, env.media, env.pub, env.clock.now)
	env.relations = NewRelationshipService(db, env.userRepo, profileRepo,
		storage.NewGormFriendshipRepository(db), env.chatRepo, storage.NewGormBlockedUserRepository(db),
		env.unread, env.pub)
	env.users = NewUserService(env.userRepo, profileRepo, env.media)
	env.auth = NewAuthService(env.userRepo, profileRepo, env.blacklist, testAuthConfig)
	return env
}

// newUser 创建一个已完成 onboarding 的用户。
func (e *testEnv) newUser(t *testing.T, email, name string, registeredAt time.Time) *models.User {
	t.Helper()
	u := &models.User{Email: email, PasswordHash: "x"}
	u.CreatedAt = registeredAt
	if err := e.userRepo.Create(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	if name != "" {
		if _, err := e.users.CompleteOnboarding(context.Background(), u.ID, models.ProfileInput{Name: name}); err != nil {
			t.Fatalf("onboard %s: %v", email, err)
		}
	}
	return u
}

// befriend 建立好友关系并返回会话 id，同时清空已记录的事件。
func (e *testEnv) befriend(t *testing.T, a, b uint) uint {
	t.Helper()
	chatID, err := e.relations.AddFriend(context.Background(), a, b)
	if err != nil {
		t.Fatalf("AddFriend(%d, %d) error = %v", a, b, err)
	}
	e.pub.take()
	return chatID
}

func (e *testEnv) send(t *testing.T, chatID, sender uint, text string) *models.Message {
	t.Helper()
	msg, err := e.messages.Append(context.Background(), AppendInput{
		ChatID: chatID, SenderID: sender, Content: &text, Type: models.TextMessage,
	})
	if err != nil {
		t.Fatalf("Append(%q) error = %v", text, err)
	}
	return msg
}

func strPtr(s string) *string { return &s }

var registered = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
