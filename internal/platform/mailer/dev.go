package mailer

import (
	"time"

	"github.com/diagnosis/userhub/pkg/logger"
)

type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) SendOTP(toEmail, code string, ttl time.Duration) error {
	logger.Info("[DEV MAIL] OTP email",
		"to", toEmail,
		"subject", otpSubject,
		"body", otpText(code, ttl),
	)
	return nil
}
