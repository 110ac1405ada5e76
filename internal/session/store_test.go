package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/organizer/internal/auth"
	"github.com/hitoshi/organizer/internal/model"
)

// --- モック定義 ---

type mockProvider struct {
	mu       sync.Mutex
	observer func(*model.Identity)

	signInWithGoogleFn func(ctx context.Context, code string) (*model.Identity, error)
	createUserFn       func(ctx context.Context, email, password string) (*model.Identity, error)
	signInWithEmailFn  func(ctx context.Context, email, password string) (*model.Identity, error)
	signOutFn          func(ctx context.Context) error

	createCalls []string
	signInCalls []string
}

func (m *mockProvider) OnAuthStateChanged(fn func(*model.Identity)) func() {
	m.mu.Lock()
	m.observer = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.observer = nil
		m.mu.Unlock()
	}
}

// emit はIdPの通知を同期的に配信する。
func (m *mockProvider) emit(identity *model.Identity) {
	m.mu.Lock()
	fn := m.observer
	m.mu.Unlock()
	if fn != nil {
		fn(identity)
	}
}

func (m *mockProvider) SignInWithGoogle(ctx context.Context, code string) (*model.Identity, error) {
	if m.signInWithGoogleFn != nil {
		return m.signInWithGoogleFn(ctx, code)
	}
	return &model.Identity{ID: "google-user"}, nil
}

func (m *mockProvider) CreateUserWithEmailAndPassword(ctx context.Context, email, password string) (*model.Identity, error) {
	m.mu.Lock()
	m.createCalls = append(m.createCalls, email+"/"+password)
	m.mu.Unlock()
	if m.createUserFn != nil {
		return m.createUserFn(ctx, email, password)
	}
	return &model.Identity{ID: "phone-user", Email: email}, nil
}

func (m *mockProvider) SignInWithEmailAndPassword(ctx context.Context, email, password string) (*model.Identity, error) {
	m.mu.Lock()
	m.signInCalls = append(m.signInCalls, email+"/"+password)
	m.mu.Unlock()
	if m.signInWithEmailFn != nil {
		return m.signInWithEmailFn(ctx, email, password)
	}
	return &model.Identity{ID: "phone-user", Email: email}, nil
}

func (m *mockProvider) SignOut(ctx context.Context) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx)
	}
	return nil
}

func newTestStore(t *testing.T, p *mockProvider) *Store {
	t.Helper()
	s := NewStore(p, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(s.Close)
	return s
}

func assertAuthReason(t *testing.T, err error, want model.AuthErrorReason) {
	t.Helper()
	var authErr *model.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *model.AuthError", err)
	}
	if authErr.Reason != want {
		t.Errorf("reason = %s, want %s", authErr.Reason, want)
	}
}

// --- テスト ---

func TestStore_InitialStateIsLoading(t *testing.T) {
	s := newTestStore(t, &mockProvider{})

	st := s.State()
	if !st.Loading {
		t.Error("Loading should be true before the first notification")
	}
	if st.Identity != nil || st.Err != nil {
		t.Errorf("initial state = %+v", st)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.WaitReady(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitReady error = %v, want deadline exceeded", err)
	}
}

func TestStore_NotificationUpdatesIdentity(t *testing.T) {
	p := &mockProvider{}
	s := newTestStore(t, p)

	var got []State
	s.Subscribe(func(st State) { got = append(got, st) })

	p.emit(&model.Identity{ID: "u1"})
	if err := s.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	st := s.State()
	if st.Loading || st.Identity == nil || st.Identity.ID != "u1" {
		t.Errorf("state = %+v", st)
	}

	p.emit(nil)
	if s.State().Identity != nil {
		t.Error("identity should be cleared by a nil notification")
	}

	if len(got) != 2 {
		t.Fatalf("observer calls = %d, want 2", len(got))
	}
	if got[0].Identity == nil || got[0].Identity.ID != "u1" || got[1].Identity != nil {
		t.Errorf("observed states = %+v", got)
	}
}

func TestStore_Subscribe_Dispose(t *testing.T) {
	p := &mockProvider{}
	s := newTestStore(t, p)

	calls := 0
	dispose := s.Subscribe(func(State) { calls++ })
	p.emit(nil)
	dispose()
	dispose()
	p.emit(&model.Identity{ID: "u1"})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestStore_SignInWithGoogle_IdentityOnlyFromNotification(t *testing.T) {
	p := &mockProvider{}
	s := newTestStore(t, p)
	p.emit(nil)

	identity, err := s.SignInWithGoogle(context.Background(), "code")
	if err != nil {
		t.Fatalf("SignInWithGoogle returned error: %v", err)
	}
	if identity.ID != "google-user" {
		t.Errorf("identity = %+v", identity)
	}
	if s.State().Identity != nil {
		t.Error("identity slot must not be written by the sign-in call")
	}

	p.emit(identity)
	if s.State().Identity == nil {
		t.Error("identity slot should be set by the notification")
	}
}

func TestStore_SignInWithGoogle_Failure(t *testing.T) {
	p := &mockProvider{
		signInWithGoogleFn: func(context.Context, string) (*model.Identity, error) {
			return nil, errors.New("popup closed")
		},
	}
	s := newTestStore(t, p)

	_, err := s.SignInWithGoogle(context.Background(), "code")
	assertAuthReason(t, err, model.AuthReasonProviderError)

	st := s.State()
	if st.Err == nil || st.Err.Provider != model.AuthProviderGoogle {
		t.Errorf("error slot = %+v", st.Err)
	}

	s.ClearError()
	if s.State().Err != nil {
		t.Error("ClearError should reset the error slot")
	}
}

func TestStore_SignInWithPhone_InvalidOTP(t *testing.T) {
	p := &mockProvider{}
	s := newTestStore(t, p)

	for _, code := range []string{"000000", "", "12345", "1234567"} {
		_, err := s.SignInWithPhone(context.Background(), "5551234567", code)
		assertAuthReason(t, err, model.AuthReasonInvalidCode)
	}
	if len(p.createCalls) != 0 || len(p.signInCalls) != 0 {
		t.Errorf("provider must not be called: create=%v signIn=%v", p.createCalls, p.signInCalls)
	}
	if s.State().Err == nil {
		t.Error("error slot should be set")
	}
}

func TestStore_SignInWithPhone_InvalidPhone(t *testing.T) {
	p := &mockProvider{}
	s := newTestStore(t, p)

	_, err := s.SignInWithPhone(context.Background(), "+ ()-", DemoOTP)
	assertAuthReason(t, err, model.AuthReasonInvalidPhone)
	if len(p.createCalls) != 0 {
		t.Error("provider must not be called")
	}
}

func TestStore_SignInWithPhone_NewNumber(t *testing.T) {
	p := &mockProvider{}
	s := newTestStore(t, p)

	identity, err := s.SignInWithPhone(context.Background(), "+1 (555) 123-4567", DemoOTP)
	if err != nil {
		t.Fatalf("SignInWithPhone returned error: %v", err)
	}
	if identity.Email != "15551234567@phone.demo" {
		t.Errorf("email = %s", identity.Email)
	}
	if len(p.createCalls) != 1 || p.createCalls[0] != "15551234567@phone.demo/demo123456" {
		t.Errorf("create calls = %v", p.createCalls)
	}
	if len(p.signInCalls) != 0 {
		t.Errorf("sign-in calls = %v, want none", p.signInCalls)
	}
}

func TestStore_SignInWithPhone_ExistingNumberFallsBackToSignIn(t *testing.T) {
	p := &mockProvider{
		createUserFn: func(context.Context, string, string) (*model.Identity, error) {
			return nil, auth.ErrEmailAlreadyInUse
		},
	}
	s := newTestStore(t, p)

	if _, err := s.SignInWithPhone(context.Background(), "5551234567", DemoOTP); err != nil {
		t.Fatalf("SignInWithPhone returned error: %v", err)
	}
	if len(p.signInCalls) != 1 || p.signInCalls[0] != "5551234567@phone.demo/demo123456" {
		t.Errorf("sign-in calls = %v", p.signInCalls)
	}
}

func TestStore_SignInWithPhone_ProviderError(t *testing.T) {
	p := &mockProvider{
		createUserFn: func(context.Context, string, string) (*model.Identity, error) {
			return nil, errors.New("quota exceeded")
		},
	}
	s := newTestStore(t, p)

	_, err := s.SignInWithPhone(context.Background(), "5551234567", DemoOTP)
	assertAuthReason(t, err, model.AuthReasonProviderError)
	if len(p.signInCalls) != 0 {
		t.Error("non-duplicate errors must not fall back to sign-in")
	}
}

func TestStore_OverlappingSignInIsRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	p := &mockProvider{
		signInWithGoogleFn: func(context.Context, string) (*model.Identity, error) {
			close(started)
			<-release
			return &model.Identity{ID: "u1"}, nil
		},
	}
	s := newTestStore(t, p)

	done := make(chan error, 1)
	go func() {
		_, err := s.SignInWithGoogle(context.Background(), "code")
		done <- err
	}()
	<-started

	_, err := s.SignInWithPhone(context.Background(), "5551234567", DemoOTP)
	assertAuthReason(t, err, model.AuthReasonSignInInProgress)

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first sign-in returned error: %v", err)
	}

	if _, err := s.SignInWithPhone(context.Background(), "5551234567", DemoOTP); err != nil {
		t.Errorf("sign-in after completion returned error: %v", err)
	}
}

func TestStore_Logout(t *testing.T) {
	p := &mockProvider{}
	s := newTestStore(t, p)
	p.emit(&model.Identity{ID: "u1"})

	if err := s.Logout(context.Background()); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}
	// サインアウトの反映はIdPの通知を待つ
	if s.State().Identity == nil {
		t.Error("identity slot must not be cleared by Logout itself")
	}
	p.emit(nil)
	if s.State().Identity != nil {
		t.Error("identity slot should be cleared by the notification")
	}
}

func TestStore_Logout_FailureKeepsIdentity(t *testing.T) {
	p := &mockProvider{
		signOutFn: func(context.Context) error { return errors.New("network down") },
	}
	s := newTestStore(t, p)
	p.emit(&model.Identity{ID: "u1"})

	err := s.Logout(context.Background())
	assertAuthReason(t, err, model.AuthReasonLogoutFailed)

	st := s.State()
	if st.Identity == nil || st.Identity.ID != "u1" {
		t.Errorf("identity = %+v, want u1", st.Identity)
	}
	if st.Err == nil || st.Err.Reason != model.AuthReasonLogoutFailed {
		t.Errorf("error slot = %+v", st.Err)
	}
}

func TestStore_Close_StopsNotifications(t *testing.T) {
	p := &mockProvider{}
	s := NewStore(p, nil)
	s.Close()

	p.emit(&model.Identity{ID: "u1"})
	if s.State().Identity != nil {
		t.Error("closed store must ignore notifications")
	}
}

// immediateProvider は購読と同時に現在の状態を通知する。
type immediateProvider struct {
	mockProvider
	identity *model.Identity
}

func (p *immediateProvider) OnAuthStateChanged(fn func(*model.Identity)) func() {
	dispose := p.mockProvider.OnAuthStateChanged(fn)
	fn(p.identity)
	return dispose
}

func TestStore_InitialObserversReceiveFirstNotification(t *testing.T) {
	p := &immediateProvider{identity: &model.Identity{ID: "restored"}}

	var got []string
	s := NewStore(p, nil,
		func(st State) { got = append(got, "first:"+st.Identity.ID) },
		nil,
		func(st State) { got = append(got, "second:"+st.Identity.ID) },
	)
	defer s.Close()

	if len(got) != 2 || got[0] != "first:restored" || got[1] != "second:restored" {
		t.Errorf("observers = %v, want [first:restored second:restored]", got)
	}
	if st := s.State(); st.Loading || st.Identity == nil {
		t.Errorf("state = %+v, want loaded with identity", st)
	}
}
