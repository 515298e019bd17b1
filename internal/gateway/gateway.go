// internal/gateway/gateway.go
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

var ErrNotConfigured = errors.New("sms provider credentials are not configured")

// Gateway delivers one text from a business number to a lead.
//
// Ordinary provider rejections (invalid number, blocked carrier) are reported
// through SendResult with Success=false. A returned error means the provider
// could not be reached at all.
type Gateway interface {
	Send(ctx context.Context, from, to, body string) (*SendResult, error)
}

// SendResult is the provider's answer for one message.
type SendResult struct {
	Success           bool
	ProviderMessageID string
	Error             string
}

// MockGateway is a Gateway whose behaviour is set per test.
type MockGateway struct {
	SendFunc func(ctx context.Context, from, to, body string) (*SendResult, error)
}

func (m *MockGateway) Send(ctx context.Context, from, to, body string) (*SendResult, error) {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, from, to, body)
	}
	return &SendResult{Success: true, ProviderMessageID: "SM123456789"}, nil
}

// New picks the gateway for provider: "log" or "twilio".
func New(provider, accountSID, authToken string, log logrus.FieldLogger) (Gateway, error) {
	switch provider {
	case "", "log":
		return &LogGateway{Log: log}, nil
	case "twilio":
		if accountSID == "" || authToken == "" {
			return nil, ErrNotConfigured
		}
		return NewTwilioGateway(accountSID, authToken), nil
	default:
		return nil, fmt.Errorf("unknown sms provider %q", provider)
	}
}
