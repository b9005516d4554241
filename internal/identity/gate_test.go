package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatsync/internal/auth"
	"chatsync/internal/models"
	apperrors "chatsync/pkg/errors"
)

type fakeProvider struct {
	mu        sync.Mutex
	token     string
	listeners []func(auth.SessionEvent)
	signOuts  int
}

func (p *fakeProvider) CurrentSession(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token, nil
}

func (p *fakeProvider) OnChange(cb func(auth.SessionEvent)) func() {
	p.mu.Lock()
	p.listeners = append(p.listeners, cb)
	p.mu.Unlock()
	return func() {}
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.signOuts++
	p.token = ""
	p.mu.Unlock()
	p.emit(auth.SessionEvent{Type: auth.SessionCleared})
	return nil
}

func (p *fakeProvider) emit(ev auth.SessionEvent) {
	p.mu.Lock()
	cbs := append([]func(auth.SessionEvent){}, p.listeners...)
	p.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

var errUnauthorized = apperrors.New(apperrors.ErrCodeUnauthorized, "invalid session")

type fakeResolver struct {
	calls   atomic.Int32
	release chan struct{} // 非 nil 时解析会阻塞直到关闭
	started chan struct{}
	users   map[string]*models.User
	profile map[uint]*models.Profile
	err     error
}

func (r *fakeResolver) ResolveSession(_ context.Context, token string) (*models.User, *models.Profile, error) {
	r.calls.Add(1)
	if r.started != nil {
		select {
		case r.started <- struct{}{}:
		default:
		}
	}
	if r.release != nil {
		<-r.release
	}
	if r.err != nil {
		return nil, nil, r.err
	}
	u, ok := r.users[token]
	if !ok {
		return nil, nil, errUnauthorized
	}
	return u, r.profile[u.ID], nil
}

type fakeOnboarder struct {
	err error
}

func (o *fakeOnboarder) CompleteOnboarding(_ context.Context, userID uint, in models.ProfileInput) (*models.Profile, error) {
	if o.err != nil {
		return nil, o.err
	}
	return &models.Profile{UserID: userID, Name: in.Name}, nil
}

func newResolver() *fakeResolver {
	u1 := &models.User{Email: "one@example.com"}
	u1.ID = 1
	u2 := &models.User{Email: "two@example.com"}
	u2.ID = 2
	return &fakeResolver{
		users:   map[string]*models.User{"tok-1": u1, "tok-2": u2},
		profile: map[uint]*models.Profile{2: {UserID: 2, Name: "Two"}},
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Uninitialized, Resolving, true},
		{Uninitialized, Ready, false},
		{Resolving, Ready, true},
		{Resolving, AuthenticatedNoProfile, true},
		{Resolving, Unauthenticated, true},
		{AuthenticatedNoProfile, Ready, true},
		{AuthenticatedNoProfile, Unauthenticated, true},
		{AuthenticatedNoProfile, Resolving, false},
		{Ready, Unauthenticated, true},
		{Ready, AuthenticatedNoProfile, false},
		{Unauthenticated, Ready, false},
		{Unauthenticated, Resolving, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestGate_Bootstrap(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name        string
		token       string
		wantState   State
		wantUser    uint
		wantProfile bool
	}{
		{"no session", "", Unauthenticated, 0, false},
		{"unknown token", "bogus", Unauthenticated, 0, false},
		{"first run", "tok-1", AuthenticatedNoProfile, 1, false},
		{"ready", "tok-2", Ready, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(&fakeProvider{}, newResolver(), &fakeOnboarder{})
			if s := g.Snapshot(); s.State != Uninitialized {
				t.Fatalf("initial state = %s", s.State)
			}
			s, err := g.Bootstrap(ctx, tt.token)
			if err != nil {
				t.Fatalf("Bootstrap() error = %v", err)
			}
			if s.State != tt.wantState {
				t.Errorf("state = %s, want %s", s.State, tt.wantState)
			}
			if tt.wantUser == 0 && s.Identity != nil {
				t.Errorf("identity = %+v, want none", s.Identity)
			}
			if tt.wantUser != 0 && (s.Identity == nil || s.Identity.ID != tt.wantUser) {
				t.Errorf("identity = %+v, want user %d", s.Identity, tt.wantUser)
			}
			if (s.Profile != nil) != tt.wantProfile {
				t.Errorf("profile = %+v, want present=%v", s.Profile, tt.wantProfile)
			}
		})
	}
}

func TestGate_BootstrapUsesProviderSession(t *testing.T) {
	provider := &fakeProvider{token: "tok-2"}
	g := NewGate(provider, newResolver(), &fakeOnboarder{})
	s, err := g.Bootstrap(context.Background(), "")
	if err != nil || s.State != Ready {
		t.Fatalf("Bootstrap() = %s, %v; want ready", s.State, err)
	}
}

func TestGate_OnboardingOnlyFromNoProfile(t *testing.T) {
	ctx := context.Background()
	g := NewGate(&fakeProvider{}, newResolver(), &fakeOnboarder{})

	if _, err := g.CompleteOnboarding(ctx, models.ProfileInput{Name: "x"}); !errors.Is(err, ErrNotOnboarding) || !errors.Is(err, apperrors.ErrState) {
		t.Errorf("CompleteOnboarding() before bootstrap error = %v", err)
	}

	if _, err := g.Bootstrap(ctx, "tok-1"); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	s, err := g.CompleteOnboarding(ctx, models.ProfileInput{Name: "One"})
	if err != nil {
		t.Fatalf("CompleteOnboarding() error = %v", err)
	}
	if s.State != Ready || s.Profile == nil || s.Profile.Name != "One" {
		t.Errorf("after onboarding = %+v", s)
	}
	if _, err := g.CompleteOnboarding(ctx, models.ProfileInput{Name: "again"}); !errors.Is(err, ErrNotOnboarding) {
		t.Errorf("second CompleteOnboarding() error = %v", err)
	}
}

func TestGate_OnboardingFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	onboarder := &fakeOnboarder{err: apperrors.Validation("bad name")}
	g := NewGate(&fakeProvider{}, newResolver(), onboarder)
	if _, err := g.Bootstrap(ctx, "tok-1"); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	s, err := g.CompleteOnboarding(ctx, models.ProfileInput{Name: ""})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("CompleteOnboarding() error = %v", err)
	}
	if s.State != AuthenticatedNoProfile {
		t.Errorf("state = %s, want unchanged", s.State)
	}
}

func TestGate_InvalidationClearsIdentity(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{token: "tok-2"}
	g := NewGate(provider, newResolver(), &fakeOnboarder{})

	var (
		mu     sync.Mutex
		states []State
	)
	g.OnSessionChange(func(s Snapshot) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})

	if _, err := g.Bootstrap(ctx, ""); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	provider.emit(auth.SessionEvent{Type: auth.SessionRefreshed, Token: "tok-2b"})
	if s := g.Snapshot(); s.State != Ready {
		t.Errorf("refresh changed state to %s", s.State)
	}

	if err := g.SignOut(ctx); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	s := g.Snapshot()
	if s.State != Unauthenticated || s.Identity != nil || s.Profile != nil {
		t.Errorf("after sign out = %+v", s)
	}
	if provider.signOuts != 1 {
		t.Errorf("provider SignOut called %d times", provider.signOuts)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{Ready, Ready, Unauthenticated}
	if len(states) != len(want) {
		t.Fatalf("notified states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("notification %d = %s, want %s", i, states[i], want[i])
		}
	}
}

func TestGate_EstablishedEventResolves(t *testing.T) {
	provider := &fakeProvider{}
	g := NewGate(provider, newResolver(), &fakeOnboarder{})

	provider.emit(auth.SessionEvent{Type: auth.SessionEstablished, Token: "tok-1"})
	if s := g.Snapshot(); s.State != AuthenticatedNoProfile || s.Identity.ID != 1 {
		t.Fatalf("after established = %+v", s)
	}

	// 切换到另一个账号会先失效再解析
	provider.emit(auth.SessionEvent{Type: auth.SessionEstablished, Token: "tok-2"})
	if s := g.Snapshot(); s.State != Ready || s.Identity.ID != 2 {
		t.Errorf("after switching = %+v", s)
	}
}

func TestGate_ConcurrentBootstrapSharesResolution(t *testing.T) {
	resolver := newResolver()
	resolver.release = make(chan struct{})
	resolver.started = make(chan struct{}, 1)
	g := NewGate(&fakeProvider{}, resolver, &fakeOnboarder{})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Snapshot, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.Bootstrap(context.Background(), "tok-2")
		}(i)
	}

	select {
	case <-resolver.started:
	case <-time.After(2 * time.Second):
		t.Fatal("resolution never started")
	}
	time.Sleep(50 * time.Millisecond)
	close(resolver.release)
	wg.Wait()

	if n := resolver.calls.Load(); n != 1 {
		t.Errorf("resolver called %d times, want 1", n)
	}
	for i := range results {
		if errs[i] != nil || results[i].State != Ready {
			t.Errorf("caller %d = %s, %v", i, results[i].State, errs[i])
		}
	}
}

func TestGate_StaleResolutionDiscarded(t *testing.T) {
	resolver := newResolver()
	resolver.release = make(chan struct{})
	resolver.started = make(chan struct{}, 1)
	provider := &fakeProvider{}
	g := NewGate(provider, resolver, &fakeOnboarder{})

	done := make(chan error, 1)
	go func() {
		_, err := g.Bootstrap(context.Background(), "tok-2")
		done <- err
	}()
	<-resolver.started

	// 解析进行中会话被清除
	provider.emit(auth.SessionEvent{Type: auth.SessionCleared})
	close(resolver.release)

	if err := <-done; !errors.Is(err, ErrSessionChanged) {
		t.Errorf("Bootstrap() error = %v, want ErrSessionChanged", err)
	}
	if s := g.Snapshot(); s.State != Unauthenticated || s.Identity != nil {
		t.Errorf("stale result resurrected the session: %+v", s)
	}
}

func TestGate_BootstrapAfterInvalidationStartsFreshResolution(t *testing.T) {
	resolver := newResolver()
	resolver.release = make(chan struct{})
	resolver.started = make(chan struct{}, 1)
	provider := &fakeProvider{}
	g := NewGate(provider, resolver, &fakeOnboarder{})

	first := make(chan error, 1)
	go func() {
		_, err := g.Bootstrap(context.Background(), "tok-2")
		first <- err
	}()
	<-resolver.started

	provider.emit(auth.SessionEvent{Type: auth.SessionCleared})

	// 同一个 token 在失效后重新登录，不能复用失效前的那次解析
	type result struct {
		s   Snapshot
		err error
	}
	second := make(chan result, 1)
	go func() {
		s, err := g.Bootstrap(context.Background(), "tok-2")
		second <- result{s, err}
	}()
	select {
	case <-resolver.started:
	case <-time.After(2 * time.Second):
		t.Fatal("post-invalidation Bootstrap did not start its own resolution")
	}
	close(resolver.release)

	got := <-second
	if got.err != nil || got.s.State != Ready || got.s.Identity == nil || got.s.Identity.ID != 2 {
		t.Errorf("post-invalidation Bootstrap() = %+v, %v; want ready as user 2", got.s, got.err)
	}
	if err := <-first; err != nil && !errors.Is(err, ErrSessionChanged) {
		t.Errorf("pre-invalidation Bootstrap() error = %v", err)
	}
	if n := resolver.calls.Load(); n != 2 {
		t.Errorf("resolver called %d times, want 2", n)
	}
	if s := g.Snapshot(); s.State != Ready {
		t.Errorf("final state = %s, want ready", s.State)
	}
}

func TestGate_CancelledCallerDoesNotAbortResolution(t *testing.T) {
	resolver := newResolver()
	resolver.release = make(chan struct{})
	resolver.started = make(chan struct{}, 1)
	g := NewGate(&fakeProvider{}, resolver, &fakeOnboarder{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Bootstrap(ctx, "tok-1")
		done <- err
	}()
	<-resolver.started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Bootstrap() error = %v, want context.Canceled", err)
	}

	close(resolver.release)
	deadline := time.Now().Add(2 * time.Second)
	for g.Snapshot().State == Resolving && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s := g.Snapshot(); s.State != AuthenticatedNoProfile {
		t.Errorf("state after background resolution = %s", s.State)
	}
}

func TestGate_UpstreamFailureIsReturned(t *testing.T) {
	resolver := newResolver()
	resolver.err = apperrors.Upstream(errors.New("db down"), "storage failure")
	g := NewGate(&fakeProvider{}, resolver, &fakeOnboarder{})

	s, err := g.Bootstrap(context.Background(), "tok-2")
	if !errors.Is(err, apperrors.ErrUpstream) {
		t.Errorf("Bootstrap() error = %v, want upstream", err)
	}
	if s.State != Unauthenticated {
		t.Errorf("state = %s", s.State)
	}

	resolver.err = nil
	if s, err := g.Bootstrap(context.Background(), "tok-2"); err != nil || s.State != Ready {
		t.Errorf("retry Bootstrap() = %s, %v", s.State, err)
	}
}
