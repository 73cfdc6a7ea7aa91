// Package otp issues and checks six digit one-time codes for phone numbers and email addresses.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// KV is the shared state the email flow needs. Get returns (nil, nil) for a missing key
// and ttl <= 0 means the key never expires.
type KV interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

const codeDigits = 6

var codeSpace = big.NewInt(1_000_000)

// Generate returns a uniformly random zero-padded 6 digit code.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

type options struct {
	now      func() time.Time
	generate func() (string, error)
}

type Option func(*options)

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithGenerator(gen func() (string, error)) Option {
	return func(o *options) { o.generate = gen }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, generate: Generate}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
