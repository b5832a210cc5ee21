package session

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dkarpov/authvault/internal/common"
	"github.com/dkarpov/authvault/internal/dbx"
	"github.com/dkarpov/authvault/internal/logging"
	"github.com/dkarpov/authvault/internal/server/config"
	"github.com/dkarpov/authvault/internal/server/identitycache"
	"github.com/dkarpov/authvault/internal/server/models"
	"github.com/dkarpov/authvault/internal/server/password"
	"github.com/dkarpov/authvault/internal/server/ratelimit"
	"github.com/dkarpov/authvault/internal/server/repositories/consumedtokens"
	"github.com/dkarpov/authvault/internal/server/repositories/refreshchains"
	"github.com/dkarpov/authvault/internal/server/repositories/repomanager"
	"github.com/dkarpov/authvault/internal/server/repositories/users"
	"github.com/dkarpov/authvault/internal/server/token"
)

// -------- test fakes --------

type fakeUsersRepo struct {
	users.Repository
	byEmail map[string]*models.User
	byID    map[string]*models.User

	created   []*models.User
	createErr error
}

func (f *fakeUsersRepo) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	u := *user
	u.ID = "generated-id"
	f.created = append(f.created, &u)
	return &u, nil
}

func (f *fakeUsersRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, common.ErrorNotFound
}

// fakeChainsRepo mimics the single-statement CAS of the real repository:
// the mutex stands in for the database's atomic update, so two concurrent
// rotations with the same presented id can never both win.
type fakeChainsRepo struct {
	refreshchains.Repository

	mu sync.Mutex
	// head is the current chain per user id; nil means absent.
	head map[string]*models.RefreshChain

	replaceErr error
	rotateErr  error
	revoked    []string
}

func (f *fakeChainsRepo) Replace(ctx context.Context, userID, tokenID string, validity time.Duration) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.head == nil {
		f.head = map[string]*models.RefreshChain{}
	}
	f.head[userID] = &models.RefreshChain{UserID: userID, TokenID: tokenID}
	return nil
}

func (f *fakeChainsRepo) Rotate(ctx context.Context, userID, oldTokenID, newTokenID string, validity time.Duration) (bool, error) {
	if f.rotateErr != nil {
		return false, f.rotateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	chain, ok := f.head[userID]
	if !ok || chain.Revoked || chain.TokenID != oldTokenID {
		return false, nil
	}
	chain.TokenID = newTokenID
	return true, nil
}

func (f *fakeChainsRepo) Find(ctx context.Context, userID string) (*models.RefreshChain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chain, ok := f.head[userID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	snapshot := *chain
	return &snapshot, nil
}

func (f *fakeChainsRepo) Revoke(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, userID)
	if chain, ok := f.head[userID]; ok {
		chain.Revoked = true
	}
	return nil
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	u *fakeUsersRepo
	c *fakeChainsRepo
}

func (m *fakeRepoManager) Users(db dbx.DBTX) users.Repository { return m.u }
func (m *fakeRepoManager) RefreshChains(db dbx.DBTX) refreshchains.Repository {
	return m.c
}
func (m *fakeRepoManager) ConsumedTokens(db dbx.DBTX) consumedtokens.Repository {
	return nil
}

// -------- helpers --------

func newSQLMockDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.BcryptCost = 4
	return cfg
}

func newTestService(t *testing.T, db *sql.DB, m *fakeRepoManager) *Service {
	t.Helper()
	cfg := testConfig()
	codec := token.NewCodec(cfg.SecretKey, "", cfg.TokenLeeway)
	hasher := password.NewHasher(cfg.BcryptCost)
	cache := identitycache.New(cfg.CacheCapacity, cfg.CacheTTL,
		func(ctx context.Context, id string) (*models.User, error) {
			return m.u.GetByID(ctx, id)
		})
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Rules{
		Default:  ratelimit.Rule{Limit: cfg.APIRateLimit, Window: cfg.APIRateWindow},
		PerRoute: map[string]ratelimit.Rule{RouteLogin: {Limit: cfg.LoginRateLimit, Window: cfg.LoginRateWindow}},
	})
	return NewService(db, m, codec, hasher, cache, limiter, testLogger(), cfg)
}

func confirmedUser(t *testing.T, id, email, secret string) *models.User {
	t.Helper()
	hash, err := password.NewHasher(4).Hash(secret)
	if err != nil {
		t.Fatalf("hashing: %v", err)
	}
	return &models.User{
		ID:           id,
		UserName:     "alice",
		Email:        email,
		PasswordHash: hash,
		Confirmed:    true,
		Role:         "user",
	}
}

// -------- tests --------

func TestLogin_Success(t *testing.T) {
	db := newSQLMockDB(t)
	defer db.Close()

	user := confirmedUser(t, "u1", "alice@example.com", "secret-pass")
	m := &fakeRepoManager{
		u: &fakeUsersRepo{byEmail: map[string]*models.User{user.Email: user}},
		c: &fakeChainsRepo{},
	}
	s := newTestService(t, db, m)

	pair, err := s.Login(context.Background(), user.Email, "secret-pass")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("empty token pair: %+v", pair)
	}

	chain, ok := m.c.head["u1"]
	if !ok || chain.TokenID == "" {
		t.Fatalf("no refresh chain persisted: %+v", m.c.head)
	}
}

func TestLogin_UniformFailures(t *testing.T) {
	db := newSQLMockDB(t)
	defer db.Close()

	confirmed := confirmedUser(t, "u1", "alice@example.com", "secret-pass")
	unconfirmed := confirmedUser(t, "u2", "bob@example.com", "secret-pass")
	unconfirmed.Confirmed = false

	m := &fakeRepoManager{
		u: &fakeUsersRepo{byEmail: map[string]*models.User{
			confirmed.Email:   confirmed,
			unconfirmed.Email: unconfirmed,
		}},
		c: &fakeChainsRepo{},
	}
	s := newTestService(t, db, m)

	tests := []struct {
		name   string
		email  string
		secret string
	}{
		{"unknown identity", "nobody@example.com", "secret-pass"},
		{"wrong password", confirmed.Email, "wrong-pass"},
		{"unconfirmed email", unconfirmed.Email, "secret-pass"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Login(context.Background(), tt.email, tt.secret)
			if !errors.Is(err, common.ErrorUnauthorized) {
				t.Fatalf("want ErrorUnauthorized, got %v", err)
			}
		})
	}
}

func TestLogin_BlockedAfterRepeatedFailures(t *testing.T) {
	db := newSQLMockDB(t)
	defer db.Close()

	user := confirmedUser(t, "u1", "alice@example.com", "secret-pass")
	m := &fakeRepoManager{
		u: &fakeUsersRepo{byEmail: map[string]*models.User{user.Email: user}},
		c: &fakeChainsRepo{},
	}
	s := newTestService(t, db, m)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if _, err := s.Login(ctx, user.Email, "wrong-pass"); !errors.Is(err, common.ErrorUnauthorized) {
			t.Fatalf("attempt %d: want ErrorUnauthorized, got %v", i, err)
		}
	}

	// budget is spent: even the correct password is refused now
	if _, err := s.Login(ctx, user.Email, "secret-pass"); !errors.Is(err, common.ErrTooManyRequests) {
		t.Fatalf("want ErrTooManyRequests, got %v", err)
	}

	// a different identity is unaffected
	if _, err := s.Login(ctx, "other@example.com", "whatever"); !errors.Is(err, common.ErrorUnauthorized) {
		t.Fatalf("other identity: want ErrorUnauthorized, got %v", err)
	}
}

func TestRefresh_RotatesChain(t *testing.T) {
	db := newSQLMockDB(t)
	defer db.Close()

	user := confirmedUser(t, "u1", "alice@example.com", "secret-pass")
	m := &fakeRepoManager{
		u: &fakeUsersRepo{byEmail: map[string]*models.User{user.Email: user}},
		c: &fakeChainsRepo{},
	}
	s := newTestService(t, db, m)
	ctx := context.Background()

	pair, err := s.Login(ctx, user.Email, "secret-pass")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	oldHead := m.c.head["u1"].TokenID

	next, err := s.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}
	if m.c.head["u1"].TokenID == oldHead {
		t.Fatalf("chain head was not advanced")
	}
}

func TestRefresh_ReuseRevokesChain(t *testing.T) {
	db := newSQLMockDB(t)
	defer db.Close()

	user := confirmedUser(t, "u1", "alice@example.com", "secret-pass")
	m := &fakeRepoManager{
		u: &fakeUsersRepo{byEmail: map[string]*models.User{user.Email: user}},
		c: &fakeChainsRepo{},
	}
	s := newTestService(t, db, m)
	ctx := context.Background()

	pair, err := s.Login(ctx, user.Email, "secret-pass")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	fresh, err := s.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("first Refresh error: %v", err)
	}

	// replaying the superseded token is theft evidence
	if _, err := s.Refresh(ctx, pair.RefreshToken); !errors.Is(err, common.ErrSessionCompromised) {
		t.Fatalf("want ErrSessionCompromised, got %v", err)
	}
	if !m.c.head["u1"].Revoked {
		t.Fatalf("chain was not revoked after reuse")
	}

	// the prior rotation's token dies with the chain
	if _, err := s.Refresh(ctx, fresh.RefreshToken); !errors.Is(err, common.ErrSessionCompromised) {
		t.Fatalf("post-compromise refresh: want ErrSessionCompromised, got %v", err)
	}
}

func TestRefresh_ConcurrentRace(t *testing.T) {
	db := newSQLMockDB(t)
	defer db.Close()

	user := confirmedUser(t, "u1", "alice@example.com", "secret-pass")
	m := &fakeRepoManager{
		u: &fakeUsersRepo{byEmail: map[string]*models.User{user.Email: user}},
		c: &fakeChainsRepo{},
	}
	s := newTestService(t, db, m)
	ctx := context.Background()

	pair, err := s.Login(ctx, user.Email, "secret-pass")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	type outcome struct {
		pair *TokenPair
		err  error
	}
	results := make(chan outcome, 2)

	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < 2; i++ {
		go func() {
			start.Wait()
			p, err := s.Refresh(ctx, pair.RefreshToken)
			results <- outcome{pair: p, err: err}
		}()
	}
	start.Done()

	var wins, compromised int
	for i := 0; i < 2; i++ {
		res := <-results
		switch {
		case res.err == nil:
			wins++
			if res.pair == nil || res.pair.RefreshToken == pair.RefreshToken {
				t.Fatalf("winner got no rotated pair: %+v", res.pair)
			}
		case errors.Is(res.err, common.ErrSessionCompromised):
			compromised++
		default:
			t.Fatalf("unexpected outcome: %v", res.err)
		}
	}
	if wins != 1 || compromised != 1 {
		t.Fatalf("want exactly one winner and one compromised, got %d/%d", wins, compromised)
	}
}

func TestRefresh_UnknownChain(t *testing.T) {
	db := newSQLMockDB(t)
	defer db.Close()

	m := &fakeRepoManager{u: &fakeUsersRepo{}, c: &fakeChainsRepo{}}
	s := newTestService(t, db, m)

	refresh, _, err := s.codec.Issue("ghost", token.PurposeRefresh, time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	if _, err := s.Refresh(context.Background(), refresh); !errors.Is(err, common.ErrorUnauthorized) {
		t.Fatalf("want ErrorUnauthorized, got %v", err)
	}
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	db := newSQLMockDB(t)
	defer db.Close()

	m := &fakeRepoManager{u: &fakeUsersRepo{}, c: &fakeChainsRepo{}}
	s := newTestService(t, db, m)

	access, _, err := s.codec.Issue("u1", token.PurposeAccess, time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	if _, err := s.Refresh(context.Background(), access); !errors.Is(err, common.ErrPurposeMismatch) {
		t.Fatalf("want ErrPurposeMismatch, got %v", err)
	}
}

func TestLogout_Idempotent(t *testing.T) {
	db := newSQLMockDB(t)
	defer db.Close()

	user := confirmedUser(t, "u1", "alice@example.com", "secret-pass")
	m := &fakeRepoManager{
		u: &fakeUsersRepo{byEmail: map[string]*models.User{user.Email: user}},
		c: &fakeChainsRepo{},
	}
	s := newTestService(t, db, m)
	ctx := context.Background()

	pair, err := s.Login(ctx, user.Email, "secret-pass")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	if err := s.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Logout error: %v", err)
	}
	if !m.c.head["u1"].Revoked {
		t.Fatalf("chain not revoked on logout")
	}

	// again, and with garbage
	if err := s.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("second Logout error: %v", err)
	}
	if err := s.Logout(ctx, "not-a-token"); err != nil {
		t.Fatalf("garbage Logout error: %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	db := newSQLMockDB(t)
	defer db.Close()

	user := confirmedUser(t, "u1", "alice@example.com", "secret-pass")
	m := &fakeRepoManager{
		u: &fakeUsersRepo{
			byEmail: map[string]*models.User{user.Email: user},
			byID:    map[string]*models.User{user.ID: user},
		},
		c: &fakeChainsRepo{},
	}
	s := newTestService(t, db, m)
	ctx := context.Background()

	pair, err := s.Login(ctx, user.Email, "secret-pass")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	got, err := s.Authorize(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authorize error: %v", err)
	}
	if got.ID != "u1" {
		t.Fatalf("unexpected subject: %+v", got)
	}

	// refresh token is not an access token
	if _, err := s.Authorize(ctx, pair.RefreshToken); !errors.Is(err, common.ErrPurposeMismatch) {
		t.Fatalf("want ErrPurposeMismatch, got %v", err)
	}

	// vanished subject
	ghost, _, err := s.codec.Issue("ghost", token.PurposeAccess, time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if _, err := s.Authorize(ctx, ghost); !errors.Is(err, common.ErrorUnauthorized) {
		t.Fatalf("want ErrorUnauthorized, got %v", err)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	db := newSQLMockDB(t)
	defer db.Close()

	m := &fakeRepoManager{
		u: &fakeUsersRepo{createErr: common.ErrAlreadyExists},
		c: &fakeChainsRepo{},
	}
	s := newTestService(t, db, m)

	_, err := s.Register(context.Background(), "alice", "alice@example.com", "secret-pass")
	if !errors.Is(err, common.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}
}

func TestRegister_StoresHashNotSecret(t *testing.T) {
	db := newSQLMockDB(t)
	defer db.Close()

	m := &fakeRepoManager{u: &fakeUsersRepo{}, c: &fakeChainsRepo{}}
	s := newTestService(t, db, m)

	created, err := s.Register(context.Background(), "alice", "alice@example.com", "secret-pass")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if created.Confirmed {
		t.Fatalf("new account must start unconfirmed")
	}
	if created.PasswordHash == "secret-pass" || created.PasswordHash == "" {
		t.Fatalf("plaintext or empty credential stored: %q", created.PasswordHash)
	}
	ok, err := password.NewHasher(4).Verify("secret-pass", created.PasswordHash)
	if err != nil || !ok {
		t.Fatalf("stored hash does not verify: ok=%v err=%v", ok, err)
	}
}
