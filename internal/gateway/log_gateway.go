package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LogGateway prints messages instead of sending them. Used in development.
type LogGateway struct {
	Log logrus.FieldLogger
}

func (g *LogGateway) Send(_ context.Context, from, to, body string) (*SendResult, error) {
	id := "LOG" + uuid.NewString()
	g.Log.WithFields(logrus.Fields{
		"from":        from,
		"to":          to,
		"provider_id": id,
	}).Infof("📤 SMS: %s", body)
	return &SendResult{Success: true, ProviderMessageID: id}, nil
}
