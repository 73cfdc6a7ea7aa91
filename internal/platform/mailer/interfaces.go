package mailer

import (
	"fmt"
	"time"

	"github.com/diagnosis/userhub/pkg/config"
)

// Service delivers one-time codes by email.
type Service interface {
	SendOTP(toEmail, code string, ttl time.Duration) error
}

const otpSubject = "Your OTP Code"

func otpText(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your OTP is: %s\n\nIt expires in %d minutes.", code, int(ttl.Minutes()))
}

func otpHTML(code string, ttl time.Duration) string {
	return fmt.Sprintf(`<p>Your OTP is: <strong style="font-size: 20px;">%s</strong></p><p>It expires in %d minutes.</p>`,
		code, int(ttl.Minutes()))
}

// New picks the dev mailer, MailerSend, or SMTP, in that order.
func New(cfg config.EmailConfig) Service {
	switch {
	case cfg.DevMode:
		return NewDevMailer()
	case cfg.MailerSendKey != "":
		return NewMailer(cfg.MailerSendKey, cfg.FromName, cfg.SMTPFrom)
	default:
		return NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPUseTLS)
	}
}
