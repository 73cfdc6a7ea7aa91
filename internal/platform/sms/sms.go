package sms

import (
	"fmt"
	"strings"

	"github.com/diagnosis/userhub/pkg/config"
	"github.com/diagnosis/userhub/pkg/logger"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Sender delivers a text message to a phone number.
type Sender interface {
	Send(to, body string) error
}

type TwilioSender struct {
	client        *twilio.RestClient
	from          string
	countryPrefix string
}

func NewTwilioSender(accountSID, authToken, from, countryPrefix string) (*TwilioSender, error) {
	if accountSID == "" || authToken == "" || from == "" {
		return nil, fmt.Errorf("missing Twilio credentials (TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_PHONE_NUMBER)")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})

	return &TwilioSender{client: client, from: from, countryPrefix: countryPrefix}, nil
}

func (t *TwilioSender) Send(to, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(t.from)
	params.SetTo(E164(to, t.countryPrefix))
	params.SetBody(body)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio create message: %w", err)
	}

	if resp.Sid != nil {
		logger.Debug("SMS sent", "sid", *resp.Sid)
	}
	return nil
}

// E164 prefixes a bare national number with the configured country code.
func E164(number, countryPrefix string) string {
	if strings.HasPrefix(number, "+") {
		return number
	}
	return countryPrefix + number
}

type DevSender struct{}

func (DevSender) Send(to, body string) error {
	logger.Info("[DEV SMS] message", "to", to, "body", body)
	return nil
}

// New returns the dev sender in dev mode and a Twilio sender otherwise.
func New(cfg config.SMSConfig) (Sender, error) {
	if cfg.DevMode {
		return DevSender{}, nil
	}
	sender, err := NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom, cfg.CountryPrefix)
	if err != nil {
		return nil, err
	}
	return sender, nil
}
