package otp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diagnosis/userhub/internal/domain"
	"github.com/diagnosis/userhub/internal/platform/mailer"
	"github.com/diagnosis/userhub/pkg/logger"
)

const (
	pendingPrefix  = "email-otp:pending:"
	verifiedPrefix = "email-otp:verified:"
)

type pendingCode struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EmailVerifier runs the two-stage email flow: a pending code per address, then a
// permanent verified marker once the code matches.
type EmailVerifier struct {
	kv     KV
	mailer mailer.Service
	ttl    time.Duration
	opts   options
}

func NewEmailVerifier(kv KV, m mailer.Service, ttl time.Duration, opts ...Option) *EmailVerifier {
	return &EmailVerifier{kv: kv, mailer: m, ttl: ttl, opts: buildOptions(opts)}
}

// Send replaces any pending code for email and mails the new one. A delivery failure
// leaves the stored code in place.
func (v *EmailVerifier) Send(ctx context.Context, email string) error {
	code, err := v.opts.generate()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(pendingCode{Code: code, ExpiresAt: v.opts.now().Add(v.ttl)})
	if err != nil {
		return fmt.Errorf("encode pending code: %w", err)
	}
	if err := v.kv.Set(ctx, pendingPrefix+email, raw, v.ttl); err != nil {
		return fmt.Errorf("store pending code: %w", err)
	}

	if err := v.mailer.SendOTP(email, code, v.ttl); err != nil {
		return fmt.Errorf("%w: send otp email: %w", domain.ErrDependency, err)
	}
	return nil
}

// Verify fails with ErrOTPExpired when nothing is pending or the code is past its expiry,
// and ErrInvalidOTP on mismatch. A match marks the address verified and drops the pending code.
func (v *EmailVerifier) Verify(ctx context.Context, email, code string) error {
	raw, err := v.kv.Get(ctx, pendingPrefix+email)
	if err != nil {
		return fmt.Errorf("load pending code: %w", err)
	}
	if raw == nil {
		return domain.ErrOTPExpired
	}

	var pending pendingCode
	if err := json.Unmarshal(raw, &pending); err != nil {
		return fmt.Errorf("decode pending code: %w", err)
	}
	if v.opts.now().After(pending.ExpiresAt) {
		return domain.ErrOTPExpired
	}
	if subtle.ConstantTimeCompare([]byte(pending.Code), []byte(code)) != 1 {
		return domain.ErrInvalidOTP
	}

	if err := v.kv.Set(ctx, verifiedPrefix+email, []byte("1"), 0); err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	// The address is verified at this point; a leftover pending code expires on its own.
	if err := v.kv.Delete(ctx, pendingPrefix+email); err != nil {
		logger.WarnContext(ctx, "Failed to drop pending email code", "error", err)
	}
	return nil
}

// IsVerified is a membership test. Membership never expires.
func (v *EmailVerifier) IsVerified(ctx context.Context, email string) (bool, error) {
	raw, err := v.kv.Get(ctx, verifiedPrefix+email)
	if err != nil {
		return false, fmt.Errorf("check verified email: %w", err)
	}
	return raw != nil, nil
}
