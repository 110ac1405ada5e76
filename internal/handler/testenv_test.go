package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/organizer/internal/auth"
	"github.com/hitoshi/organizer/internal/config"
	"github.com/hitoshi/organizer/internal/dashboard"
	"github.com/hitoshi/organizer/internal/events"
	"github.com/hitoshi/organizer/internal/i18n"
	"github.com/hitoshi/organizer/internal/middleware"
	"github.com/hitoshi/organizer/internal/model"
	"github.com/hitoshi/organizer/internal/profile"
	"github.com/hitoshi/organizer/internal/security"
)

// --- モック定義 ---

// fakeAuthClient はサインイン／サインアウトの結果をその場で通知するIdPクライアント。
type fakeAuthClient struct {
	mu        sync.Mutex
	identity  *model.Identity
	observers map[int]func(*model.Identity)
	nextID    int
	closed    bool
}

func (f *fakeAuthClient) OnAuthStateChanged(fn func(*model.Identity)) func() {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.observers[id] = fn
	current := f.identity
	f.mu.Unlock()

	// 購読と同時にセッション復元の完了を通知する
	fn(current)

	return func() {
		f.mu.Lock()
		delete(f.observers, id)
		f.mu.Unlock()
	}
}

func (f *fakeAuthClient) set(identity *model.Identity) {
	f.mu.Lock()
	f.identity = identity
	ids := make([]int, 0, len(f.observers))
	for id := range f.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(*model.Identity), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, f.observers[id])
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(identity)
	}
}

func (f *fakeAuthClient) SignInWithGoogle(_ context.Context, code string) (*model.Identity, error) {
	if code == "rejected" {
		return nil, errors.New("invalid_grant")
	}
	identity := &model.Identity{ID: "google-" + code, DisplayName: "Google Organizer", Email: code + "@example.com"}
	f.set(identity)
	return identity, nil
}

func (f *fakeAuthClient) CreateUserWithEmailAndPassword(_ context.Context, email, _ string) (*model.Identity, error) {
	identity := &model.Identity{ID: "phone-" + strings.TrimSuffix(email, "@phone.demo"), Email: email}
	f.set(identity)
	return identity, nil
}

func (f *fakeAuthClient) SignInWithEmailAndPassword(ctx context.Context, email, password string) (*model.Identity, error) {
	return f.CreateUserWithEmailAndPassword(ctx, email, password)
}

func (f *fakeAuthClient) SignOut(context.Context) error {
	f.set(nil)
	return nil
}

func (f *fakeAuthClient) IDToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.identity == nil {
		return "", auth.ErrNotSignedIn
	}
	return "token-" + f.identity.ID, nil
}

func (f *fakeAuthClient) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// fakeTokenVerifier は"token-<uid>"形式のトークンを受け付ける。
type fakeTokenVerifier struct{}

func (fakeTokenVerifier) VerifyIDToken(token string) (*auth.IDTokenClaims, error) {
	uid, ok := strings.CutPrefix(token, "token-")
	if !ok || uid == "" {
		return nil, errors.New("invalid id token")
	}
	return &auth.IDTokenClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: uid}}, nil
}

type stubLoginURL struct{}

func (stubLoginURL) GetLoginURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + state
}

type memProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]*model.Profile
}

func (m *memProfileRepo) FindByID(_ context.Context, uid string) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[uid]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memProfileRepo) Create(_ context.Context, p *model.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.profiles[p.UID]; ok {
		existing.LastLoginAt = p.LastLoginAt
		return nil
	}
	cp := *p
	m.profiles[p.UID] = &cp
	return nil
}

func (m *memProfileRepo) UpdateLastLogin(_ context.Context, uid string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[uid]; ok {
		p.LastLoginAt = at
	}
	return nil
}

// memEventStore は変更のたびに主催者単位の通知を発行するインメモリのイベントストア。
type memEventStore struct {
	mu       sync.Mutex
	events   []model.Event
	watchers map[string][]chan struct{}
	failList bool
}

func newMemEventStore() *memEventStore {
	return &memEventStore{watchers: make(map[string][]chan struct{})}
}

func (m *memEventStore) Create(_ context.Context, event *model.Event) error {
	m.mu.Lock()
	event.ID = uuid.NewString()
	m.events = append(m.events, *event)
	m.mu.Unlock()
	m.publish(event.OrganizerID)
	return nil
}

func (m *memEventStore) ListByOrganizer(_ context.Context, organizerID string) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList {
		return nil, errors.New("permission denied")
	}
	var list []model.Event
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].OrganizerID == organizerID {
			list = append(list, m.events[i])
		}
	}
	return list, nil
}

func (m *memEventStore) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	var owner string
	m.events = slices.DeleteFunc(m.events, func(e model.Event) bool {
		if e.ID == id {
			owner = e.OrganizerID
			return true
		}
		return false
	})
	m.mu.Unlock()
	if owner != "" {
		m.publish(owner)
	}
	return nil
}

func (m *memEventStore) Notify(key string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.watchers[key] = append(m.watchers[key], ch)
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		m.watchers[key] = slices.DeleteFunc(m.watchers[key], func(c chan struct{}) bool { return c == ch })
		m.mu.Unlock()
	}
}

func (m *memEventStore) publish(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.watchers[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

type pingChecker struct{ err error }

func (p pingChecker) PingContext(context.Context) error { return p.err }

// --- テスト環境 ---

const (
	testCSRFToken = "test-csrf-token"
	testAPIKey    = "test-api-key"
)

type testEnv struct {
	router   http.Handler
	registry *dashboard.Registry
	profiles *memProfileRepo
	store    *memEventStore
	config   *config.Config
	boot     *profile.Bootstrapper
	logger   *slog.Logger

	mu    sync.Mutex
	auths map[string]*fakeAuthClient
}

func testConfig() *config.Config {
	return &config.Config{
		SessionMaxAge:      86400,
		BaseURL:            "http://localhost:3000",
		DefaultCountryCode: "1",
		DefaultLocale:      "en",
		Location:           time.UTC,
		CORSAllowedOrigin:  "http://localhost:3000",
		RateLimitGeneral:   1000,
		RateLimitSignIn:    1000,
		RateLimitAddress:   10000,
		Backend: config.BackendConfig{
			APIKey:            testAPIKey,
			ProjectID:         "organizer-test",
			AuthDomain:        "organizer-test.example.com",
			StorageBucket:     "organizer-test.appspot.com",
			MessagingSenderID: "1234567890",
			AppID:             "1:1234567890:web:abcdef",
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		profiles: &memProfileRepo{profiles: make(map[string]*model.Profile)},
		store:    newMemEventStore(),
		config:   testConfig(),
		auths:    make(map[string]*fakeAuthClient),
	}

	boot := profile.NewBootstrapper(env.profiles, nil, logger)
	repo := events.NewRepository(env.store, env.store, security.NewMarkupDetector(), nil, time.UTC, logger)
	env.registry = dashboard.NewRegistry(dashboard.Config{
		IdleTTL:         time.Hour,
		CleanupInterval: time.Hour,
		SuccessDisplay:  time.Second,
	}, func(clientID string) dashboard.AuthClient {
		ac := &fakeAuthClient{observers: make(map[int]func(*model.Identity))}
		env.mu.Lock()
		env.auths[clientID] = ac
		env.mu.Unlock()
		return ac
	}, boot, repo, nil, logger)
	t.Cleanup(env.registry.Close)

	env.boot = boot
	env.logger = logger
	env.buildRouter(t)
	return env
}

// buildRouter はenv.configのレート制限でルーターを組み立て直す。
func (e *testEnv) buildRouter(t *testing.T) {
	t.Helper()
	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(e.config.RateLimitGeneral, e.config.RateLimitSignIn, e.config.RateLimitAddress))
	t.Cleanup(limiter.Stop)

	e.router = NewRouter(&RouterDeps{
		Config:        e.config,
		Logger:        e.logger,
		RateLimiter:   limiter,
		Messages:      i18n.NewTranslator("en", e.logger),
		Clients:       e.registry,
		OAuth:         stubLoginURL{},
		TokenVerifier: fakeTokenVerifier{},
		Profiles:      e.boot,
		HealthChecker: pingChecker{},
	})
}

// request はクライアントCookieとCSRFトークンを付けたリクエストを組み立てる。
func (e *testEnv) request(method, path, body, clientID string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if clientID != "" {
		req.AddCookie(&http.Cookie{Name: middleware.ClientCookieName, Value: clientID})
	}
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
	req.Header.Set("X-CSRF-Token", testCSRFToken)
	req.Header.Set("Accept-Language", "en")
	return req
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) do(method, path, body, clientID string) *httptest.ResponseRecorder {
	return e.serve(e.request(method, path, body, clientID))
}

// signIn は電話番号デモOTPでサインインし、サインインしたクライアントIDを返す。
func (e *testEnv) signIn(t *testing.T, phone string) string {
	t.Helper()
	clientID := uuid.NewString()
	w := e.do(http.MethodPost, "/auth/phone/verify", `{"phoneNumber":"`+phone+`","code":"123456"}`, clientID)
	if w.Code != http.StatusOK {
		t.Fatalf("sign in status = %d, body = %s", w.Code, w.Body.String())
	}
	return clientID
}

func (e *testEnv) auth(clientID string) *fakeAuthClient {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auths[clientID]
}

// eventually はcondが真になるまで短い間隔で確認する。
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func futureDate(days int) string {
	return time.Now().UTC().AddDate(0, 0, days).Format(model.DateLayout)
}
