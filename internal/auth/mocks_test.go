package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/platforms/internal/model"
	"github.com/hitoshi/platforms/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn          func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn       func(ctx context.Context, email string) (*model.User, error)
	createFn            func(ctx context.Context, email string, role model.Role) (*model.User, error)
	createWithAccountFn func(ctx context.Context, user *model.User, account *model.Account) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, email string, role model.Role) (*model.User, error) {
	if m.createFn != nil {
		return m.createFn(ctx, email, role)
	}
	return &model.User{ID: "new-user", Email: email, Role: role}, nil
}

func (m *mockUserRepo) CreateWithAccount(ctx context.Context, user *model.User, account *model.Account) error {
	if m.createWithAccountFn != nil {
		return m.createWithAccountFn(ctx, user, account)
	}
	return nil
}

func (m *mockUserRepo) CompleteSignup(_ context.Context, _, _ string, _ model.Role) (*model.User, error) {
	return nil, nil
}

type mockAccountRepo struct {
	findFn func(ctx context.Context, provider, providerAccountID string) (*model.Account, error)
}

func (m *mockAccountRepo) FindByProviderAccount(ctx context.Context, provider, providerAccountID string) (*model.Account, error) {
	if m.findFn != nil {
		return m.findFn(ctx, provider, providerAccountID)
	}
	return nil, nil
}

func (m *mockAccountRepo) Create(_ context.Context, _ *model.Account) error {
	return nil
}

type mockOAuthProvider struct {
	name       string
	loginURLFn func(state string) string
	exchangeFn func(ctx context.Context, code string) (Identity, error)
}

func (m *mockOAuthProvider) Name() string { return m.name }

func (m *mockOAuthProvider) LoginURL(state string) string {
	if m.loginURLFn != nil {
		return m.loginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) Exchange(ctx context.Context, code string) (Identity, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code)
	}
	return Identity{}, nil
}

type mockMailer struct {
	mu    sync.Mutex
	sent  []sentMail
	errFn func(to string) error
}

type sentMail struct {
	to   string
	link string
}

func (m *mockMailer) SendVerificationLink(_ context.Context, to, link string) error {
	if m.errFn != nil {
		if err := m.errFn(to); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, link: link})
	return nil
}

type mockLimiter struct {
	allow bool
}

func (m *mockLimiter) AllowEmail(string) bool { return m.allow }

// memoryUserStore はメールアドレスの一意性を保証するインメモリのAccountStore。
// Createの前に遅延を入れて、検索と作成の間の競合を再現できる。
type memoryUserStore struct {
	mu          sync.Mutex
	users       map[string]*model.User
	findCalls   int
	createCalls int
	createDelay time.Duration
}

func newMemoryUserStore() *memoryUserStore {
	return &memoryUserStore{users: make(map[string]*model.User)}
}

func (s *memoryUserStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *memoryUserStore) Create(_ context.Context, email string, role model.Role) (*model.User, error) {
	if s.createDelay > 0 {
		time.Sleep(s.createDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	key := strings.ToLower(email)
	if _, ok := s.users[key]; ok {
		return nil, repository.ErrDuplicateEmail
	}
	u := &model.User{ID: uuid.New().String(), Email: email, Role: role}
	s.users[key] = u
	cp := *u
	return &cp, nil
}

func (s *memoryUserStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// memoryTokenStore はインメモリのVerificationTokenRepository。
type memoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*model.VerificationToken
	now    func() time.Time
}

func newMemoryTokenStore() *memoryTokenStore {
	return &memoryTokenStore{tokens: make(map[string]*model.VerificationToken), now: time.Now}
}

func (s *memoryTokenStore) Create(_ context.Context, token *model.VerificationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *token
	s.tokens[token.Identifier+"|"+token.TokenHash] = &cp
	return nil
}

func (s *memoryTokenStore) Consume(_ context.Context, identifier, tokenHash string) (*model.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := identifier + "|" + tokenHash
	t, ok := s.tokens[key]
	if !ok {
		return nil, nil
	}
	delete(s.tokens, key)
	if !t.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return t, nil
}

func (s *memoryTokenStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, t := range s.tokens {
		if !t.ExpiresAt.After(before) {
			delete(s.tokens, k)
			n++
		}
	}
	return n, nil
}

// --- compile-time interface checks ---
var (
	_ repository.UserRepository              = (*mockUserRepo)(nil)
	_ repository.AccountRepository           = (*mockAccountRepo)(nil)
	_ repository.VerificationTokenRepository = (*memoryTokenStore)(nil)
	_ OAuthProvider                          = (*mockOAuthProvider)(nil)
	_ AccountStore                           = (*memoryUserStore)(nil)
	_ Mailer                                 = (*mockMailer)(nil)
	_ DispatchLimiter                        = (*mockLimiter)(nil)
)
