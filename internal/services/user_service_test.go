package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"chatsync/internal/auth"
	"chatsync/internal/models"
	apperrors "chatsync/pkg/errors"
)

func TestUserService_Onboarding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.newUser(t, "new@example.com", "", registered)

	if _, err := env.users.GetProfile(ctx, u.ID); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("GetProfile() before onboarding error = %v", err)
	}

	invalid := []string{"", "   ", strings.Repeat("n", maxNameRunes+1)}
	for _, name := range invalid {
		if _, err := env.users.CompleteOnboarding(ctx, u.ID, models.ProfileInput{Name: name}); !errors.Is(err, ErrInvalidName) {
			t.Errorf("CompleteOnboarding(%q) error = %v, want ErrInvalidName", name, err)
		}
	}

	p, err := env.users.CompleteOnboarding(ctx, u.ID, models.ProfileInput{Name: "  Nina  ", Bio: strPtr("<i>hello</i>")})
	if err != nil {
		t.Fatalf("CompleteOnboarding() error = %v", err)
	}
	if p.Name != "Nina" || p.Bio == nil || *p.Bio != "hello" {
		t.Errorf("profile = %+v", p)
	}

	_, err = env.users.CompleteOnboarding(ctx, u.ID, models.ProfileInput{Name: "Again"})
	if !errors.Is(err, ErrProfileExists) || !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("second CompleteOnboarding() error = %v, want ErrProfileExists", err)
	}

	if _, err := env.users.CompleteOnboarding(ctx, 9999, models.ProfileInput{Name: "Ghost"}); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("CompleteOnboarding(missing user) error = %v", err)
	}
}

func TestUserService_UpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.newUser(t, "u@example.com", "Before", registered)
	if _, err := env.users.UpdateProfile(ctx, u.ID, models.ProfileUpdate{Bio: strPtr("bio")}); err != nil {
		t.Fatalf("UpdateProfile(bio) error = %v", err)
	}

	p, err := env.users.UpdateProfile(ctx, u.ID, models.ProfileUpdate{Name: strPtr("After")})
	if err != nil {
		t.Fatalf("UpdateProfile(name) error = %v", err)
	}
	if p.Name != "After" || p.Bio == nil || *p.Bio != "bio" {
		t.Errorf("profile = %+v, untouched fields must keep their value", p)
	}

	p, err = env.users.UpdateProfile(ctx, u.ID, models.ProfileUpdate{Bio: strPtr("")})
	if err != nil {
		t.Fatalf("UpdateProfile(clear bio) error = %v", err)
	}
	if p.Bio != nil {
		t.Errorf("bio = %q, want cleared", *p.Bio)
	}

	if _, err := env.users.UpdateProfile(ctx, u.ID, models.ProfileUpdate{Name: strPtr(" ")}); !errors.Is(err, ErrInvalidName) {
		t.Errorf("UpdateProfile(blank name) error = %v", err)
	}
	nobody := env.newUser(t, "nobody@example.com", "", registered)
	if _, err := env.users.UpdateProfile(ctx, nobody.ID, models.ProfileUpdate{Name: strPtr("X")}); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("UpdateProfile(no profile) error = %v", err)
	}
}

func TestUserService_Search(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	me := env.newUser(t, "me@example.com", "Anna Smith", registered)
	other := env.newUser(t, "o@example.com", "ANNA Jones", registered)
	env.newUser(t, "b@example.com", "Bob", registered)

	got, err := env.users.Search(ctx, "anna", me.ID)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != other.ID {
		t.Errorf("Search(anna) = %+v, want only the other Anna", got)
	}

	got, err = env.users.Search(ctx, "   ", me.ID)
	if err != nil || len(got) != 0 {
		t.Errorf("Search(blank) = %+v, %v", got, err)
	}
}

func TestUserService_UploadAvatar(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.newUser(t, "u@example.com", "Pic", registered)

	if _, err := env.users.UploadAvatar(ctx, u.ID, "script.exe", strings.NewReader("x")); !errors.Is(err, ErrUnsupportedUpload) {
		t.Errorf("UploadAvatar(exe) error = %v", err)
	}

	url, err := env.users.UploadAvatar(ctx, u.ID, "me.JPG", strings.NewReader("jpeg"))
	if err != nil {
		t.Fatalf("UploadAvatar() error = %v", err)
	}
	if !strings.HasPrefix(url, "https://cdn.test/avatars/") || !strings.HasSuffix(url, ".jpg") {
		t.Errorf("avatar url = %q", url)
	}
	p, _ := env.users.GetProfile(ctx, u.ID)
	if p.AvatarURL == nil || *p.AvatarURL != url {
		t.Errorf("profile avatar = %v, want %q", p.AvatarURL, url)
	}
}

func TestAuthService_RegisterLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{"bad email", "not-an-email", "password123", ErrInvalidEmail},
		{"display name email", "Bob <bob@example.com>", "password123", ErrInvalidEmail},
		{"short password", "s@example.com", "short", ErrPasswordTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.auth.Register(ctx, tt.email, tt.password); !errors.Is(err, tt.wantErr) {
				t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	u, err := env.auth.Register(ctx, "  Mixed@Example.com ", "password123")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if u.Email != "mixed@example.com" {
		t.Errorf("stored email = %q, want lower-cased", u.Email)
	}
	if _, err := env.auth.Register(ctx, "mixed@example.com", "password456"); !errors.Is(err, ErrUserAlreadyExists) {
		t.Errorf("duplicate Register() error = %v, want ErrUserAlreadyExists", err)
	}

	if _, _, err := env.auth.Login(ctx, "mixed@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login(wrong password) error = %v", err)
	}
	if _, _, err := env.auth.Login(ctx, "nobody@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login(unknown) error = %v", err)
	}
	token, user, err := env.auth.Login(ctx, "MIXED@example.com", "password123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user.ID != u.ID || token == "" {
		t.Errorf("Login() = %q, %+v", token, user)
	}
}

func TestAuthService_ResolveSessionAndLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u, err := env.auth.Register(ctx, "r@example.com", "password123")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	token, _, err := env.auth.Login(ctx, "r@example.com", "password123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	user, profile, err := env.auth.ResolveSession(ctx, token)
	if err != nil {
		t.Fatalf("ResolveSession() error = %v", err)
	}
	if user.ID != u.ID || profile != nil {
		t.Errorf("ResolveSession() = %+v, %+v; want no profile yet", user, profile)
	}

	if _, err := env.users.CompleteOnboarding(ctx, u.ID, models.ProfileInput{Name: "Rae"}); err != nil {
		t.Fatalf("CompleteOnboarding() error = %v", err)
	}
	_, profile, err = env.auth.ResolveSession(ctx, token)
	if err != nil || profile == nil || profile.Name != "Rae" {
		t.Errorf("ResolveSession() after onboarding profile = %+v, %v", profile, err)
	}

	claims, err := auth.ValidateToken(ctx, token, testAuthConfig.JWTSecretKey, nil)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if err := env.auth.Logout(ctx, claims); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, _, err := env.auth.ResolveSession(ctx, token); !errors.Is(err, ErrInvalidSession) || !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Errorf("ResolveSession() after logout error = %v, want ErrInvalidSession", err)
	}
	if _, _, err := env.auth.ResolveSession(ctx, "garbage"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("ResolveSession(garbage) error = %v", err)
	}
	if err := env.auth.Logout(ctx, nil); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Logout(nil) error = %v", err)
	}
}
