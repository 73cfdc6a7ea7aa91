package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/userhub/internal/domain"
	"github.com/diagnosis/userhub/internal/platform/sms"
)

// IdentityStore is the slice of the credential store the phone flow touches.
type IdentityStore interface {
	FindByPhone(ctx context.Context, phone string) (*domain.Identity, error)
	Create(ctx context.Context, identity *domain.Identity) (*domain.Identity, error)
	Save(ctx context.Context, identity *domain.Identity) (*domain.Identity, error)
}

// PhoneIssuer writes the code onto the identity owning the phone number, creating a bare
// unverified identity on first contact.
type PhoneIssuer struct {
	store IdentityStore
	sms   sms.Sender
	ttl   time.Duration
	opts  options
}

func NewPhoneIssuer(store IdentityStore, sender sms.Sender, ttl time.Duration, opts ...Option) *PhoneIssuer {
	return &PhoneIssuer{store: store, sms: sender, ttl: ttl, opts: buildOptions(opts)}
}

// Send stores a fresh code, replacing any earlier one, then texts it. When the SMS fails the
// stored code is kept and the returned identity is still valid alongside a wrapped ErrDependency.
func (p *PhoneIssuer) Send(ctx context.Context, phone string) (*domain.Identity, bool, error) {
	code, err := p.opts.generate()
	if err != nil {
		return nil, false, err
	}
	expiry := p.opts.now().Add(p.ttl)

	identity, created, err := p.attachCode(ctx, phone, code, expiry)
	if err != nil {
		return nil, false, err
	}

	if err := p.sms.Send(phone, "Your OTP code is "+code); err != nil {
		return identity, created, fmt.Errorf("%w: send otp sms: %w", domain.ErrDependency, err)
	}
	return identity, created, nil
}

func (p *PhoneIssuer) attachCode(ctx context.Context, phone, code string, expiry time.Time) (*domain.Identity, bool, error) {
	existing, err := p.store.FindByPhone(ctx, phone)
	if err != nil {
		return nil, false, fmt.Errorf("find identity by phone: %w", err)
	}

	if existing == nil {
		fresh := &domain.Identity{Phone: domain.StringPtr(phone), Role: domain.RoleUser}
		fresh.SetOTP(code, expiry)
		created, err := p.store.Create(ctx, fresh)
		if err == nil {
			return created, true, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, false, fmt.Errorf("create identity: %w", err)
		}
		// Lost a race with a concurrent first request for the same number.
		existing, err = p.store.FindByPhone(ctx, phone)
		if err != nil || existing == nil {
			return nil, false, fmt.Errorf("reload identity by phone: %w", errors.Join(err, domain.ErrConflict))
		}
	}

	existing.SetOTP(code, expiry)
	saved, err := p.store.Save(ctx, existing)
	if err != nil {
		return nil, false, fmt.Errorf("store otp: %w", err)
	}
	return saved, false, nil
}
