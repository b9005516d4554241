package apiserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"chatsync/internal/auth"
	"chatsync/internal/config"
	"chatsync/internal/identity"
	"chatsync/internal/middleware"
	"chatsync/internal/notifier"
	"chatsync/internal/services"
	"chatsync/internal/storage"
	apperrors "chatsync/pkg/errors"
)

var testAuthCfg = config.AuthConfig{
	JWTSecretKey: "apiserver-test-secret-key-0123456789",
	JWTExpiry:    time.Hour,
}

type apiEnv struct {
	t      *testing.T
	router *mux.Router
}

func newAPIEnv(t *testing.T, sendLimit int) *apiEnv {
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
	media, err := storage.NewLocalMediaStore(config.StorageConfig{
		LocalPath:     t.TempDir(),
		PublicBaseURL: "/uploads",
		MaxFileSizeMB: 1,
	})
	if err != nil {
		t.Fatalf("NewLocalMediaStore() error = %v", err)
	}

	userRepo := storage.NewGormUserRepository(db)
	profileRepo := storage.NewGormProfileRepository(db)
	chatRepo := storage.NewGormChatRepository(db)
	msgRepo := storage.NewGormMessageRepository(db)
	blacklist := auth.NewMemoryTokenBlacklist()
	broker := notifier.NewBroker(16)
	t.Cleanup(broker.Close)
	pub := notifier.New(broker, nil, "test")

	unread := services.NewUnreadService(chatRepo, msgRepo)
	messages := services.NewMessageService(db, chatRepo, msgRepo, media, pub, nil)
	relations := services.NewRelationshipService(db, userRepo, profileRepo,
		storage.NewGormFriendshipRepository(db), chatRepo, storage.NewGormBlockedUserRepository(db), unread, pub)
	users := services.NewUserService(userRepo, profileRepo, media)
	authSvc := services.NewAuthService(userRepo, profileRepo, blacklist, testAuthCfg)
	rankings := services.NewRankingService(msgRepo, storage.NewGormCoinPrizeRepository(db), nil,
		config.RankingConfig{Timezone: "UTC", TopN: 10}, nil)

	limiter := middleware.NewRateLimiter(sendLimit, time.Hour)
	t.Cleanup(limiter.Close)

	r := mux.NewRouter()
	authMW := func(next http.Handler) http.Handler {
		return middleware.AuthMiddleware(next, testAuthCfg, blacklist)
	}
	RegisterRoutes(r, Handlers{
		Auth:    NewAuthHandler(authSvc, users),
		User:    NewUserHandler(users, rankings),
		Upload:  NewUploadHandler(users, messages, config.StorageConfig{MaxFileSizeMB: 1}),
		Chat:    NewChatHandler(relations, messages, unread),
		Ranking: NewRankingHandler(rankings),
	}, authMW, limiter)
	return &apiEnv{t: t, router: r}
}

func (e *apiEnv) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *apiEnv) expect(rec *httptest.ResponseRecorder, status int, out interface{}) {
	e.t.Helper()
	if rec.Code != status {
		e.t.Fatalf("status = %d, want %d; body = %s", rec.Code, status, rec.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			e.t.Fatalf("decode response: %v; body = %s", err, rec.Body.String())
		}
	}
}

// signUp 注册、登录并（name 非空时）完成 onboarding，返回用户 id 和 token。
func (e *apiEnv) signUp(email, name string) (uint, string) {
	e.t.Helper()
	creds := Credentials{Email: email, Password: "password123"}
	e.expect(e.do(http.MethodPost, "/auth/register", "", creds), http.StatusCreated, nil)

	var login struct {
		Token string `json:"token"`
		User  struct {
			ID uint `json:"id"`
		} `json:"user"`
	}
	e.expect(e.do(http.MethodPost, "/auth/login", "", creds), http.StatusOK, &login)

	if name != "" {
		e.expect(e.do(http.MethodPost, "/api/v1/onboarding", login.Token, map[string]string{"name": name}), http.StatusCreated, nil)
	}
	return login.User.ID, login.Token
}

func TestSessionAndOnboarding(t *testing.T) {
	e := newAPIEnv(t, 0)
	_, token := e.signUp("alice@example.com", "")

	var snap identity.Snapshot
	e.expect(e.do(http.MethodGet, "/api/v1/session", token, nil), http.StatusOK, &snap)
	if snap.State != identity.AuthenticatedNoProfile || snap.Profile != nil {
		t.Fatalf("session before onboarding = %+v", snap)
	}

	// 资料尚不存在
	e.expect(e.do(http.MethodGet, "/api/v1/profile", token, nil), http.StatusNotFound, nil)

	e.expect(e.do(http.MethodPost, "/api/v1/onboarding", token, map[string]string{"name": "  Alice  "}), http.StatusCreated, &snap)
	if snap.State != identity.Ready || snap.Profile == nil || snap.Profile.Name != "Alice" {
		t.Fatalf("session after onboarding = %+v", snap)
	}

	var errResp ErrorResponse
	e.expect(e.do(http.MethodPost, "/api/v1/onboarding", token, map[string]string{"name": "Again"}), http.StatusForbidden, &errResp)
	if errResp.Code != apperrors.ErrCodeState {
		t.Errorf("second onboarding code = %q", errResp.Code)
	}

	e.expect(e.do(http.MethodGet, "/api/v1/session", token, nil), http.StatusOK, &snap)
	if snap.State != identity.Ready {
		t.Errorf("session state = %s, want ready", snap.State)
	}
}

func TestAuthErrors(t *testing.T) {
	e := newAPIEnv(t, 0)
	e.signUp("bob@example.com", "Bob")

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"duplicate email", "/auth/register", Credentials{Email: "BOB@example.com", Password: "password123"}, http.StatusConflict, apperrors.ErrCodeConflict},
		{"short password", "/auth/register", Credentials{Email: "new@example.com", Password: "short"}, http.StatusBadRequest, apperrors.ErrCodeValidation},
		{"bad email", "/auth/register", Credentials{Email: "not-an-email", Password: "password123"}, http.StatusBadRequest, apperrors.ErrCodeValidation},
		{"wrong password", "/auth/login", Credentials{Email: "bob@example.com", Password: "wrong-password"}, http.StatusUnauthorized, apperrors.ErrCodeUnauthorized},
		{"unknown user", "/auth/login", Credentials{Email: "nobody@example.com", Password: "password123"}, http.StatusUnauthorized, apperrors.ErrCodeUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errResp ErrorResponse
			e.expect(e.do(http.MethodPost, tt.path, "", tt.body), tt.status, &errResp)
			if errResp.Code != tt.code {
				t.Errorf("code = %q, want %q", errResp.Code, tt.code)
			}
		})
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	e := newAPIEnv(t, 0)
	_, token := e.signUp("carol@example.com", "Carol")

	e.expect(e.do(http.MethodGet, "/api/v1/profile", token, nil), http.StatusOK, nil)
	e.expect(e.do(http.MethodPost, "/api/v1/auth/logout", token, nil), http.StatusOK, nil)
	e.expect(e.do(http.MethodGet, "/api/v1/profile", token, nil), http.StatusUnauthorized, nil)
	e.expect(e.do(http.MethodGet, "/api/v1/session", "", nil), http.StatusUnauthorized, nil)
}

func TestFriendsChatsAndMessages(t *testing.T) {
	e := newAPIEnv(t, 0)
	aliceID, alice := e.signUp("alice@example.com", "Alice")
	bobID, bob := e.signUp("bob@example.com", "Bob")

	var added AddFriendResponse
	e.expect(e.do(http.MethodPost, "/api/v1/friends", alice, TargetUserRequest{UserID: bobID}), http.StatusCreated, &added)
	if added.ChatID == 0 || added.AlreadyFriends {
		t.Fatalf("AddFriend = %+v", added)
	}
	var again AddFriendResponse
	e.expect(e.do(http.MethodPost, "/api/v1/friends", bob, TargetUserRequest{UserID: aliceID}), http.StatusOK, &again)
	if again.ChatID != added.ChatID || !again.AlreadyFriends {
		t.Fatalf("second AddFriend = %+v, want chat %d already friends", again, added.ChatID)
	}

	chatPath := fmt.Sprintf("/api/v1/chats/%d", added.ChatID)
	text := "hello bob"
	e.expect(e.do(http.MethodPost, chatPath+"/messages", alice, SendMessageRequest{Content: &text}), http.StatusCreated, nil)
	e.expect(e.do(http.MethodPost, chatPath+"/messages", alice, SendMessageRequest{}), http.StatusBadRequest, nil)

	var unread map[string]int64
	e.expect(e.do(http.MethodGet, chatPath+"/unread", bob, nil), http.StatusOK, &unread)
	if unread["unread"] != 1 {
		t.Errorf("bob unread = %d, want 1", unread["unread"])
	}
	var index map[string]int64
	e.expect(e.do(http.MethodGet, "/api/v1/chats/unread", bob, nil), http.StatusOK, &index)
	if index[fmt.Sprint(added.ChatID)] != 1 {
		t.Errorf("bob index unread = %v", index)
	}

	var chats []services.ChatSummary
	e.expect(e.do(http.MethodGet, "/api/v1/chats", bob, nil), http.StatusOK, &chats)
	if len(chats) != 1 || chats[0].Friend.Name != "Alice" || chats[0].LastMessage == nil || *chats[0].LastMessage != text {
		t.Fatalf("bob chats = %+v", chats)
	}

	var marked map[string]int64
	e.expect(e.do(http.MethodPost, chatPath+"/read", bob, nil), http.StatusOK, &marked)
	if marked["marked"] != 1 {
		t.Errorf("marked = %d, want 1", marked["marked"])
	}
	e.expect(e.do(http.MethodPost, chatPath+"/read", bob, nil), http.StatusOK, &marked)
	if marked["marked"] != 0 {
		t.Errorf("second mark read = %d, want 0", marked["marked"])
	}

	var msgs []struct {
		ID      uint   `json:"id"`
		Content string `json:"content"`
		Read    bool   `json:"read"`
	}
	e.expect(e.do(http.MethodGet, chatPath+"/messages", alice, nil), http.StatusOK, &msgs)
	if len(msgs) != 1 || msgs[0].Content != text || !msgs[0].Read {
		t.Fatalf("messages = %+v", msgs)
	}

	// 第三个用户不是参与者
	_, mallory := e.signUp("mallory@example.com", "Mallory")
	e.expect(e.do(http.MethodGet, chatPath+"/messages", mallory, nil), http.StatusForbidden, nil)
	e.expect(e.do(http.MethodGet, "/api/v1/chats/9999", alice, nil), http.StatusNotFound, nil)
	e.expect(e.do(http.MethodGet, chatPath+"/messages?limit=abc", alice, nil), http.StatusBadRequest, nil)
}

func TestBlocks(t *testing.T) {
	e := newAPIEnv(t, 0)
	_, alice := e.signUp("alice@example.com", "Alice")
	bobID, _ := e.signUp("bob@example.com", "Bob")

	e.expect(e.do(http.MethodPost, "/api/v1/blocks", alice, TargetUserRequest{UserID: bobID}), http.StatusNoContent, nil)
	var blocked []services.BlockedUserView
	e.expect(e.do(http.MethodGet, "/api/v1/blocks", alice, nil), http.StatusOK, &blocked)
	if len(blocked) != 1 || blocked[0].ID != bobID {
		t.Fatalf("blocked = %+v", blocked)
	}

	e.expect(e.do(http.MethodPost, "/api/v1/friends", alice, TargetUserRequest{UserID: bobID}), http.StatusForbidden, nil)

	path := fmt.Sprintf("/api/v1/blocks/%d", bobID)
	e.expect(e.do(http.MethodDelete, path, alice, nil), http.StatusNoContent, nil)
	e.expect(e.do(http.MethodDelete, path, alice, nil), http.StatusNoContent, nil)
	e.expect(e.do(http.MethodPost, "/api/v1/friends", alice, TargetUserRequest{UserID: bobID}), http.StatusCreated, nil)
}

func TestSendRateLimited(t *testing.T) {
	e := newAPIEnv(t, 1)
	_, alice := e.signUp("alice@example.com", "Alice")
	bobID, _ := e.signUp("bob@example.com", "Bob")

	var added AddFriendResponse
	e.expect(e.do(http.MethodPost, "/api/v1/friends", alice, TargetUserRequest{UserID: bobID}), http.StatusCreated, &added)

	path := fmt.Sprintf("/api/v1/chats/%d/messages", added.ChatID)
	text := "one"
	e.expect(e.do(http.MethodPost, path, alice, SendMessageRequest{Content: &text}), http.StatusCreated, nil)
	var errResp ErrorResponse
	e.expect(e.do(http.MethodPost, path, alice, SendMessageRequest{Content: &text}), http.StatusTooManyRequests, &errResp)
	if errResp.Code != apperrors.ErrCodeRateLimitExceeded {
		t.Errorf("code = %q", errResp.Code)
	}
}

func TestProfileSearchStatsAndRankings(t *testing.T) {
	e := newAPIEnv(t, 0)
	aliceID, alice := e.signUp("alice@example.com", "Alice")
	_, bob := e.signUp("bob@example.com", "Bob")

	bio := "hi"
	e.expect(e.do(http.MethodPut, "/api/v1/profile", alice, map[string]*string{"bio": &bio}), http.StatusOK, nil)

	var found []struct {
		ID   uint   `json:"id"`
		Name string `json:"name"`
		Bio  string `json:"bio"`
	}
	e.expect(e.do(http.MethodGet, "/api/v1/users/search?q=ali", bob, nil), http.StatusOK, &found)
	if len(found) != 1 || found[0].ID != aliceID || found[0].Bio != "hi" {
		t.Fatalf("search = %+v", found)
	}

	var stats services.UserStats
	e.expect(e.do(http.MethodGet, fmt.Sprintf("/api/v1/users/%d/stats", aliceID), bob, nil), http.StatusOK, &stats)
	if stats.UserID != aliceID || stats.TotalMessages != 0 || stats.DailyRank != nil {
		t.Errorf("stats = %+v", stats)
	}
	e.expect(e.do(http.MethodGet, "/api/v1/users/9999/stats", bob, nil), http.StatusNotFound, nil)

	var rankings RankingsResponse
	e.expect(e.do(http.MethodGet, "/api/v1/rankings/weekly", bob, nil), http.StatusOK, &rankings)
	if rankings.Period != "weekly" || len(rankings.Entries) != 0 || rankings.Prize != nil {
		t.Errorf("rankings = %+v", rankings)
	}
	e.expect(e.do(http.MethodGet, "/api/v1/rankings/hourly", bob, nil), http.StatusBadRequest, nil)
	e.expect(e.do(http.MethodGet, "/api/v1/prizes", bob, nil), http.StatusOK, nil)
}

func TestUploads(t *testing.T) {
	e := newAPIEnv(t, 0)
	_, alice := e.signUp("alice@example.com", "Alice")
	bobID, _ := e.signUp("bob@example.com", "Bob")

	upload := func(path, fileName string, fields map[string]string) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		for k, v := range fields {
			_ = mw.WriteField(k, v)
		}
		fw, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		_, _ = fw.Write([]byte("binary"))
		mw.Close()
		req := httptest.NewRequest(http.MethodPost, path, &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+alice)
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, req)
		return rec
	}

	var info struct {
		URL string `json:"url"`
	}
	e.expect(upload("/api/v1/profile/avatar", "me.png", nil), http.StatusOK, &info)
	if info.URL == "" {
		t.Error("avatar URL is empty")
	}
	e.expect(upload("/api/v1/profile/avatar", "me.exe", nil), http.StatusBadRequest, nil)

	var added AddFriendResponse
	e.expect(e.do(http.MethodPost, "/api/v1/friends", alice, TargetUserRequest{UserID: bobID}), http.StatusCreated, &added)
	mediaPath := fmt.Sprintf("/api/v1/chats/%d/media", added.ChatID)

	var msg struct {
		Type     string `json:"type"`
		MediaURL string `json:"mediaUrl"`
	}
	e.expect(upload(mediaPath, "photo.jpg", map[string]string{"type": "image"}), http.StatusCreated, &msg)
	if msg.Type != "image" || msg.MediaURL == "" {
		t.Errorf("media message = %+v", msg)
	}
	e.expect(upload(mediaPath, "photo.jpg", map[string]string{"type": "text"}), http.StatusBadRequest, nil)
}
