package controller

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/leaddrip-backend/internal/service"
)

// WebhookController receives lead and inbound SMS webhooks and manual sweep
// triggers.
type WebhookController struct {
	Intake  *service.LeadIntakeService
	Replies *service.ReplyService
	Engine  *service.EnrollmentEngine
	Log     logrus.FieldLogger
}

func (c *WebhookController) Lead(w http.ResponseWriter, r *http.Request) {
	var body service.LeadPayload
	if err := decodeBody(r, &body); err != nil {
		writeError(w, c.Log, r, err)
		return
	}

	res, err := c.Intake.Ingest(r.Context(), body, time.Now().UTC())
	if err != nil {
		writeError(w, c.Log, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, res)
}

func (c *WebhookController) InboundSMS(w http.ResponseWriter, r *http.Request) {
	var body service.InboundSMS
	if err := decodeBody(r, &body); err != nil {
		writeError(w, c.Log, r, err)
		return
	}

	res, err := c.Replies.HandleInbound(r.Context(), body, time.Now().UTC())
	if err != nil {
		writeError(w, c.Log, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// Sweep runs one synchronous sweep. Per-enrollment failures are in the body,
// not the status code.
func (c *WebhookController) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := c.Engine.ProcessDue(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, c.Log, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}
