package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/diagnosis/userhub/internal/domain"
	"github.com/diagnosis/userhub/internal/repo/postgres"
	"github.com/diagnosis/userhub/pkg/events"
	"github.com/diagnosis/userhub/pkg/logger"
)

type PasswordManager interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) (bool, error)
}

type TokenIssuer interface {
	Issue(identityID string, role domain.Role) (string, error)
	TTL() time.Duration
}

type PhoneOTPIssuer interface {
	Send(ctx context.Context, phone string) (*domain.Identity, bool, error)
}

type EmailOTPVerifier interface {
	Send(ctx context.Context, email string) error
	Verify(ctx context.Context, email, code string) error
	IsVerified(ctx context.Context, email string) (bool, error)
}

// AccountService drives an identity from unknown to an authenticated session.
// Registration never issues a token; only Login does.
type AccountService interface {
	Register(ctx context.Context, req *domain.RegisterRequest) (*domain.Identity, error)
	RegisterAdmin(ctx context.Context, req *domain.RegisterRequest) (*domain.Identity, error)
	RequestPhoneOTP(ctx context.Context, req *domain.PhoneOTPRequest) error
	VerifyPhoneAndRegister(ctx context.Context, req *domain.VerifyPhoneRegisterRequest) (*domain.Identity, error)
	RequestEmailOTP(ctx context.Context, req *domain.EmailOTPRequest) error
	VerifyEmailOTP(ctx context.Context, req *domain.VerifyEmailOTPRequest) error
	RegisterWithVerifiedEmail(ctx context.Context, req *domain.RegisterRequest) (*domain.Identity, error)
	Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error)
	GetIdentity(ctx context.Context, id string) (*domain.Identity, error)
	UpdateProfile(ctx context.Context, id string, req *domain.UpdateProfileRequest) (*domain.Identity, error)
	AdminUpdate(ctx context.Context, id string, req *domain.AdminUpdateRequest) (*domain.Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
	ListUsers(ctx context.Context, limit, offset int) ([]domain.Identity, error)
	EnsureAdmin(ctx context.Context, email, password string) error
}

type accountService struct {
	repo      postgres.IdentityRepository
	phoneOTP  PhoneOTPIssuer
	emailOTP  EmailOTPVerifier
	passwords PasswordManager
	tokens    TokenIssuer
	events    events.Publisher
	now       func() time.Time

	decoyOnce sync.Once
	decoyHash string
}

type Option func(*accountService)

func WithClock(now func() time.Time) Option {
	return func(s *accountService) { s.now = now }
}

func NewAccountService(
	repo postgres.IdentityRepository,
	phoneOTP PhoneOTPIssuer,
	emailOTP EmailOTPVerifier,
	passwords PasswordManager,
	tokens TokenIssuer,
	publisher events.Publisher,
	opts ...Option,
) AccountService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	s := &accountService{
		repo:      repo,
		phoneOTP:  phoneOTP,
		emailOTP:  emailOTP,
		passwords: passwords,
		tokens:    tokens,
		events:    publisher,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Direct password registration

func (s *accountService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.Identity, error) {
	return s.registerWithPassword(ctx, req, domain.RoleUser, false, "password")
}

func (s *accountService) RegisterAdmin(ctx context.Context, req *domain.RegisterRequest) (*domain.Identity, error) {
	return s.registerWithPassword(ctx, req, domain.RoleAdmin, false, "admin")
}

func (s *accountService) registerWithPassword(ctx context.Context, req *domain.RegisterRequest, role domain.Role, verified bool, flow string) (*domain.Identity, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if err := s.ensureEmailFree(ctx, req.Email, ""); err != nil {
		return nil, err
	}
	if err := s.ensurePhoneFree(ctx, req.PhoneNumber, ""); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	identity, err := s.repo.Create(ctx, &domain.Identity{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        domain.StringPtr(req.Email),
		Phone:        domain.StringPtr(req.PhoneNumber),
		PasswordHash: &hash,
		Role:         role,
		IsVerified:   verified,
	})
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}

	logger.InfoContext(ctx, "Identity registered", "identity_id", identity.ID, "role", identity.Role, "flow", flow)
	s.publish(ctx, events.IdentityRegistered, events.IdentityEvent{
		IdentityID: identity.ID,
		Role:       identity.Role.String(),
		Flow:       flow,
		OccurredAt: s.now(),
	})
	return identity, nil
}

// Phone OTP flow

func (s *accountService) RequestPhoneOTP(ctx context.Context, req *domain.PhoneOTPRequest) error {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return err
	}

	identity, created, err := s.phoneOTP.Send(ctx, req.PhoneNumber)
	delivered := err == nil
	if identity != nil {
		logger.InfoContext(ctx, "Phone OTP issued", "identity_id", identity.ID, "new_identity", created, "delivered", delivered)
		s.publish(ctx, events.OTPRequested, events.OTPRequestedEvent{Channel: "sms", Delivered: delivered, OccurredAt: s.now()})
	}
	return err
}

func (s *accountService) VerifyPhoneAndRegister(ctx context.Context, req *domain.VerifyPhoneRegisterRequest) (*domain.Identity, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	identity, err := s.repo.FindByPhone(ctx, req.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("find identity by phone: %w", err)
	}
	if identity == nil {
		return nil, domain.ErrNotFound
	}

	if err := identity.CheckOTP(req.OTP, s.now()); err != nil {
		return nil, err
	}

	if req.Email != "" {
		if err := s.ensureEmailFree(ctx, req.Email, identity.ID); err != nil {
			return nil, err
		}
		identity.Email = domain.StringPtr(req.Email)
	}

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	identity.IsVerified = true
	identity.ClearOTP()
	identity.FirstName = req.FirstName
	identity.LastName = req.LastName
	identity.PasswordHash = &hash

	saved, err := s.repo.Save(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("save verified identity: %w", err)
	}

	logger.InfoContext(ctx, "Identity verified by phone", "identity_id", saved.ID)
	s.publish(ctx, events.IdentityVerified, events.IdentityEvent{
		IdentityID: saved.ID,
		Role:       saved.Role.String(),
		Flow:       "phone-otp",
		OccurredAt: s.now(),
	})
	return saved, nil
}

// Email OTP flow

func (s *accountService) RequestEmailOTP(ctx context.Context, req *domain.EmailOTPRequest) error {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return err
	}

	err := s.emailOTP.Send(ctx, req.Email)
	if err == nil || errors.Is(err, domain.ErrDependency) {
		s.publish(ctx, events.OTPRequested, events.OTPRequestedEvent{Channel: "email", Delivered: err == nil, OccurredAt: s.now()})
	}
	return err
}

func (s *accountService) VerifyEmailOTP(ctx context.Context, req *domain.VerifyEmailOTPRequest) error {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return err
	}
	return s.emailOTP.Verify(ctx, req.Email, req.OTP)
}

func (s *accountService) RegisterWithVerifiedEmail(ctx context.Context, req *domain.RegisterRequest) (*domain.Identity, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	verified, err := s.emailOTP.IsVerified(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if !verified {
		return nil, domain.ErrEmailNotVerified
	}

	return s.registerWithPassword(ctx, req, domain.RoleUser, verified, "email-otp")
}

// Login

func (s *accountService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		identity *domain.Identity
		err      error
	)
	if req.Email != "" {
		identity, err = s.repo.FindByEmail(ctx, req.Email)
	} else {
		identity, err = s.repo.FindByPhone(ctx, req.PhoneNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("find identity: %w", err)
	}
	if identity == nil {
		s.compareDecoy(req.Password)
		return nil, domain.ErrNotFound
	}
	if identity.PasswordHash == nil {
		s.compareDecoy(req.Password)
		return nil, domain.ErrInvalidCredentials
	}

	ok, err := s.passwords.Verify(req.Password, *identity.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.WarnContext(ctx, "Login rejected", "identity_id", identity.ID)
		return nil, domain.ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(identity.ID, identity.Role)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	return &domain.LoginResponse{
		User:      identity,
		Token:     token,
		ExpiresIn: int64(s.tokens.TTL().Seconds()),
	}, nil
}

// compareDecoy spends one hash comparison so a missing identity or password takes as long
// as a wrong password.
func (s *accountService) compareDecoy(plain string) {
	s.decoyOnce.Do(func() {
		hash, err := s.passwords.Hash("userhub-decoy-password")
		if err != nil {
			logger.Warn("Failed to build decoy password hash", "error", err)
			return
		}
		s.decoyHash = hash
	})
	if s.decoyHash != "" {
		_, _ = s.passwords.Verify(plain, s.decoyHash)
	}
}

// Profile

func (s *accountService) GetIdentity(ctx context.Context, id string) (*domain.Identity, error) {
	identity, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find identity: %w", err)
	}
	if identity == nil {
		return nil, domain.ErrNotFound
	}
	return identity, nil
}

// UpdateProfile is the self-service update. An email change needs the new address to be
// verified already, and it resets the identity's own verification state.
func (s *accountService) UpdateProfile(ctx context.Context, id string, req *domain.UpdateProfileRequest) (*domain.Identity, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	identity, err := s.GetIdentity(ctx, id)
	if err != nil {
		return nil, err
	}

	var changes []string
	if req.Email != nil {
		newEmail := *req.Email
		if newEmail == identity.EmailValue() {
			return nil, fmt.Errorf("email: %w", domain.ErrConflict)
		}
		if err := s.ensureEmailFree(ctx, newEmail, identity.ID); err != nil {
			return nil, err
		}
		verified, err := s.emailOTP.IsVerified(ctx, newEmail)
		if err != nil {
			return nil, err
		}
		if !verified {
			return nil, domain.ErrEmailNotVerified
		}
		identity.Email = domain.StringPtr(newEmail)
		identity.IsVerified = false
		identity.ClearOTP()
		changes = append(changes, "email")
	}

	if req.PhoneNumber != nil && *req.PhoneNumber != identity.PhoneValue() {
		if err := s.ensurePhoneFree(ctx, *req.PhoneNumber, identity.ID); err != nil {
			return nil, err
		}
	}
	changes = append(changes, req.Apply(identity)...)

	return s.saveUpdate(ctx, identity, changes)
}

// AdminUpdate overwrites profile fields without the email verification gate and may change the role.
func (s *accountService) AdminUpdate(ctx context.Context, id string, req *domain.AdminUpdateRequest) (*domain.Identity, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	identity, err := s.GetIdentity(ctx, id)
	if err != nil {
		return nil, err
	}

	var changes []string
	if req.Email != nil && *req.Email != identity.EmailValue() {
		if err := s.ensureEmailFree(ctx, *req.Email, identity.ID); err != nil {
			return nil, err
		}
		identity.Email = domain.StringPtr(*req.Email)
		changes = append(changes, "email")
	}
	if req.PhoneNumber != nil && *req.PhoneNumber != identity.PhoneValue() {
		if err := s.ensurePhoneFree(ctx, *req.PhoneNumber, identity.ID); err != nil {
			return nil, err
		}
	}
	changes = append(changes, req.Apply(identity)...)

	if req.Role != nil && *req.Role != identity.Role {
		identity.Role = *req.Role
		changes = append(changes, "role")
	}

	return s.saveUpdate(ctx, identity, changes)
}

func (s *accountService) saveUpdate(ctx context.Context, identity *domain.Identity, changes []string) (*domain.Identity, error) {
	saved, err := s.repo.Save(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("save identity: %w", err)
	}

	s.publish(ctx, events.IdentityUpdated, events.IdentityEvent{
		IdentityID: saved.ID,
		Role:       saved.Role.String(),
		Changes:    changes,
		OccurredAt: s.now(),
	})
	return saved, nil
}

func (s *accountService) DeleteIdentity(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("delete identity: %w", err)
	}

	logger.InfoContext(ctx, "Identity deleted", "identity_id", id)
	s.publish(ctx, events.IdentityDeleted, events.IdentityEvent{IdentityID: id, OccurredAt: s.now()})
	return nil
}

func (s *accountService) ListUsers(ctx context.Context, limit, offset int) ([]domain.Identity, error) {
	users, err := s.repo.ListByRole(ctx, domain.RoleUser, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// EnsureAdmin seeds one admin when none exists. Empty credentials disable seeding.
func (s *accountService) EnsureAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}

	exists, err := s.repo.ExistsWithRole(ctx, domain.RoleAdmin)
	if err != nil {
		return fmt.Errorf("check admin exists: %w", err)
	}
	if exists {
		return nil
	}

	req := &domain.LoginRequest{Email: email, Password: password}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return err
	}
	if err := s.ensureEmailFree(ctx, req.Email, ""); err != nil {
		return err
	}

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return err
	}
	identity, err := s.repo.Create(ctx, &domain.Identity{
		FirstName:    "Admin",
		LastName:     "Account",
		Email:        domain.StringPtr(req.Email),
		PasswordHash: &hash,
		Role:         domain.RoleAdmin,
		IsVerified:   true,
	})
	if err != nil {
		return fmt.Errorf("create bootstrap admin: %w", err)
	}

	logger.InfoContext(ctx, "Bootstrap admin created", "identity_id", identity.ID)
	s.publish(ctx, events.IdentityRegistered, events.IdentityEvent{
		IdentityID: identity.ID,
		Role:       identity.Role.String(),
		Flow:       "bootstrap",
		OccurredAt: s.now(),
	})
	return nil
}

// Helpers

func (s *accountService) ensureEmailFree(ctx context.Context, email, selfID string) error {
	other, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if other != nil && other.ID != selfID {
		return fmt.Errorf("email: %w", domain.ErrConflict)
	}
	return nil
}

func (s *accountService) ensurePhoneFree(ctx context.Context, phone, selfID string) error {
	other, err := s.repo.FindByPhone(ctx, phone)
	if err != nil {
		return fmt.Errorf("check phone: %w", err)
	}
	if other != nil && other.ID != selfID {
		return fmt.Errorf("phoneNumber: %w", domain.ErrConflict)
	}
	return nil
}

// publish never fails the request; events are best effort.
func (s *accountService) publish(ctx context.Context, subject string, payload interface{}) {
	if err := s.events.Publish(ctx, subject, payload); err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "subject", subject, "error", err)
	}
}
