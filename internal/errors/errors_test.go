package appErrors_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	appErrors "github.com/unclebandit/leaddrip-backend/internal/errors"
)

func TestIsNotFound(t *testing.T) {
	assert.True(t, appErrors.IsNotFound(appErrors.NewCampaignNotFound(7)))
	assert.True(t, appErrors.IsNotFound(fmt.Errorf("wrapped: %w", appErrors.NewProfileNotFound(1))))
	assert.True(t, appErrors.IsNotFound(appErrors.NewConversationNotFoundForPhone("+15550001111")))
	assert.False(t, appErrors.IsNotFound(appErrors.ErrAlreadyEnrolled))
}

func TestValidationError(t *testing.T) {
	err := fmt.Errorf("intake: %w", appErrors.NewValidationError("phone is required", "source is required"))

	assert.True(t, appErrors.IsValidation(err))
	assert.Contains(t, err.Error(), "phone is required, source is required")
}

func TestNotFoundMessages(t *testing.T) {
	assert.Equal(t, "campaign with ID 3 not found", appErrors.NewCampaignNotFound(3).Error())
	assert.Equal(t, "no conversation found for +15550001111", appErrors.NewConversationNotFoundForPhone("+15550001111").Error())
	assert.Equal(t, "conversation with ID 9 not found", appErrors.NewConversationNotFound(9).Error())
}
