package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTwilioBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioGateway sends through the Twilio Messages REST API.
type TwilioGateway struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	Client     *http.Client
}

func NewTwilioGateway(accountSID, authToken string) *TwilioGateway {
	return &TwilioGateway{
		AccountSID: accountSID,
		AuthToken:  authToken,
		BaseURL:    defaultTwilioBaseURL,
		Client:     &http.Client{Timeout: 15 * time.Second},
	}
}

type twilioMessage struct {
	SID          string  `json:"sid"`
	Status       string  `json:"status"`
	ErrorCode    *int    `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (g *TwilioGateway) Send(ctx context.Context, from, to, body string) (*SendResult, error) {
	if g.AccountSID == "" || g.AuthToken == "" {
		return nil, ErrNotConfigured
	}

	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", strings.TrimRight(g.BaseURL, "/"), g.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(g.AccountSID, g.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read twilio response: %w", err)
	}

	// 5xx is the provider being down, not a verdict on this message.
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("twilio returned %d", resp.StatusCode)
	}

	if resp.StatusCode >= 400 {
		var apiErr twilioError
		if err := json.Unmarshal(raw, &apiErr); err != nil || apiErr.Message == "" {
			return &SendResult{Success: false, Error: fmt.Sprintf("twilio returned %d", resp.StatusCode)}, nil
		}
		return &SendResult{Success: false, Error: fmt.Sprintf("%d: %s", apiErr.Code, apiErr.Message)}, nil
	}

	var msg twilioMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode twilio response: %w", err)
	}
	if msg.Status == "failed" || msg.Status == "undelivered" {
		reason := msg.Status
		if msg.ErrorMessage != nil {
			reason = *msg.ErrorMessage
		}
		return &SendResult{Success: false, ProviderMessageID: msg.SID, Error: reason}, nil
	}
	return &SendResult{Success: true, ProviderMessageID: msg.SID}, nil
}

func (g *TwilioGateway) client() *http.Client {
	if g.Client != nil {
		return g.Client
	}
	return http.DefaultClient
}
