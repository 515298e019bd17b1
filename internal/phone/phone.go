package phone

import (
	"fmt"

	"github.com/nyaruka/phonenumbers"
)

// Normalize parses phone using region as the default country and returns it in
// E.164 format. Numbers that do not validate are rejected.
func Normalize(phone, region string) (string, error) {
	if phone == "" {
		return "", fmt.Errorf("phone number cannot be empty")
	}
	if region == "" {
		region = "US"
	}

	parsed, err := phonenumbers.Parse(phone, region)
	if err != nil {
		return "", fmt.Errorf("failed to parse phone number: %w", err)
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", fmt.Errorf("invalid phone number %q", phone)
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
