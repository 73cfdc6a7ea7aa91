package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/diagnosis/userhub/internal/domain"
	"github.com/diagnosis/userhub/internal/otp"
	"github.com/diagnosis/userhub/internal/platform/auth"
	"github.com/diagnosis/userhub/internal/repo/redisstore"
	"github.com/diagnosis/userhub/internal/service"
)

// ---------- Mocks ----------

type mockRepo struct {
	mu     sync.Mutex
	nextID int
	rows   map[string]domain.Identity

	// beforeSave runs ahead of every Save, outside the lock.
	beforeSave func(id string)
}

func newMockRepo() *mockRepo {
	return &mockRepo{rows: make(map[string]domain.Identity)}
}

func (m *mockRepo) uniqueViolation(u *domain.Identity) error {
	for id, row := range m.rows {
		if id == u.ID {
			continue
		}
		if u.Email != nil && row.Email != nil && *u.Email == *row.Email {
			return fmt.Errorf("email: %w", domain.ErrConflict)
		}
		if u.Phone != nil && row.Phone != nil && *u.Phone == *row.Phone {
			return fmt.Errorf("phoneNumber: %w", domain.ErrConflict)
		}
	}
	return nil
}

func (m *mockRepo) Create(_ context.Context, u *domain.Identity) (*domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.nextID++
	cp.ID = fmt.Sprintf("id-%d", m.nextID)
	if err := m.uniqueViolation(&cp); err != nil {
		return nil, err
	}
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.rows[cp.ID] = cp
	out := cp
	return &out, nil
}

func (m *mockRepo) find(match func(domain.Identity) bool) (*domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if match(row) {
			out := row
			return &out, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) FindByID(_ context.Context, id string) (*domain.Identity, error) {
	return m.find(func(r domain.Identity) bool { return r.ID == id })
}

func (m *mockRepo) FindByEmail(_ context.Context, email string) (*domain.Identity, error) {
	return m.find(func(r domain.Identity) bool { return r.Email != nil && *r.Email == email })
}

func (m *mockRepo) FindByPhone(_ context.Context, phone string) (*domain.Identity, error) {
	return m.find(func(r domain.Identity) bool { return r.Phone != nil && *r.Phone == phone })
}

func (m *mockRepo) Save(_ context.Context, u *domain.Identity) (*domain.Identity, error) {
	if m.beforeSave != nil {
		m.beforeSave(u.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[u.ID]; !ok {
		return nil, domain.ErrNotFound
	}
	if err := m.uniqueViolation(u); err != nil {
		return nil, err
	}
	cp := *u
	cp.UpdatedAt = time.Now()
	m.rows[cp.ID] = cp
	out := cp
	return &out, nil
}

func (m *mockRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *mockRepo) ListByRole(_ context.Context, role domain.Role, limit, offset int) ([]domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Identity{}
	for _, row := range m.rows {
		if row.Role == role {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return []domain.Identity{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepo) ExistsWithRole(_ context.Context, role domain.Role) (bool, error) {
	u, _ := m.find(func(r domain.Identity) bool { return r.Role == role })
	return u != nil, nil
}

type mockMailer struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (m *mockMailer) SendOTP(to, code string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = make(map[string]string)
	}
	m.codes[to] = code
	return m.err
}

func (m *mockMailer) code(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[to]
}

type mockSMS struct {
	mu     sync.Mutex
	bodies map[string]string
	err    error
}

func (m *mockSMS) Send(to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bodies == nil {
		m.bodies = make(map[string]string)
	}
	m.bodies[to] = body
	return m.err
}

func (m *mockSMS) code(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	body := m.bodies[to]
	if len(body) < 6 {
		return ""
	}
	return body[len(body)-6:]
}

type publishedEvent struct {
	subject string
	payload interface{}
}

type mockPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (m *mockPublisher) Publish(_ context.Context, subject string, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, publishedEvent{subject, data})
	return nil
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.subject
	}
	return out
}

// countingPasswords records how many hash comparisons ran.
type countingPasswords struct {
	*auth.PasswordHasher
	mu       sync.Mutex
	verifies int
}

func (c *countingPasswords) Verify(plain, hash string) (bool, error) {
	c.mu.Lock()
	c.verifies++
	c.mu.Unlock()
	return c.PasswordHasher.Verify(plain, hash)
}

func (c *countingPasswords) verifyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verifies
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// scriptedCodes hands out queued codes first, then falls back to random ones.
type scriptedCodes struct {
	mu    sync.Mutex
	queue []string
}

func (s *scriptedCodes) push(codes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, codes...)
}

func (s *scriptedCodes) next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return otp.Generate()
	}
	c := s.queue[0]
	s.queue = s.queue[1:]
	return c, nil
}

// ---------- Fixture ----------

type fixture struct {
	svc       service.AccountService
	repo      *mockRepo
	mailer    *mockMailer
	sms       *mockSMS
	events    *mockPublisher
	clock     *fakeClock
	codes     *scriptedCodes
	tokens    *auth.TokenIssuer
	passwords *countingPasswords
}

var cheapParams = &argon2id.Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		repo:      newMockRepo(),
		mailer:    &mockMailer{},
		sms:       &mockSMS{},
		events:    &mockPublisher{},
		clock:     &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
		codes:     &scriptedCodes{},
		passwords: &countingPasswords{PasswordHasher: auth.NewPasswordHasher(cheapParams)},
	}
	f.tokens = auth.NewTokenIssuer("test-secret", time.Hour).WithClock(f.clock.Now)

	opts := []otp.Option{otp.WithClock(f.clock.Now), otp.WithGenerator(f.codes.next)}
	phone := otp.NewPhoneIssuer(f.repo, f.sms, 5*time.Minute, opts...)
	email := otp.NewEmailVerifier(redisstore.NewKV(client, "test:"), f.mailer, 5*time.Minute, opts...)

	f.svc = service.NewAccountService(f.repo, phone, email, f.passwords, f.tokens, f.events, service.WithClock(f.clock.Now))
	return f
}

func validRegister(email, phone string) *domain.RegisterRequest {
	return &domain.RegisterRequest{
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Email:       email,
		PhoneNumber: phone,
		Password:    "correct horse",
	}
}
