package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/leaddrip-backend/internal/errors"
	"github.com/unclebandit/leaddrip-backend/internal/gateway"
	"github.com/unclebandit/leaddrip-backend/internal/logger"
	"github.com/unclebandit/leaddrip-backend/internal/metrics"
	"github.com/unclebandit/leaddrip-backend/internal/model"
	"github.com/unclebandit/leaddrip-backend/internal/phone"
	"github.com/unclebandit/leaddrip-backend/internal/queue"
	"github.com/unclebandit/leaddrip-backend/internal/repository"
	"github.com/unclebandit/leaddrip-backend/internal/validation"
)

// DefaultHandoffTemplate is texted to a lead whose reply asked for a person.
const DefaultHandoffTemplate = "Thanks {{first_name}}! A member of the {{business_name}} team will reach out to you personally shortly."

// InboundSMS is the body of the inbound SMS webhook.
type InboundSMS struct {
	From              string `json:"from" validate:"required"`
	To                string `json:"to" validate:"required"`
	Body              string `json:"body" validate:"required,max=1600"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
}

type ReplyResult struct {
	ConversationID    int64   `json:"conversation_id"`
	PausedEnrollments []int64 `json:"paused_enrollments"`
	Escalated         bool    `json:"escalated"`
	MatchedKeyword    string  `json:"matched_keyword,omitempty"`
	HandoffSent       bool    `json:"handoff_sent"`
}

// ReplyService records lead replies, stops their drips and escalates when
// the lead asks for a human.
type ReplyService struct {
	ConversationRepo repository.ConversationRepositoryInterface
	MessageRepo      repository.MessageRepositoryInterface
	ProfileRepo      repository.ProfileRepositoryInterface
	Engine           *EnrollmentEngine
	Gateway          gateway.Gateway
	Queue            queue.Queue
	Keywords         []string
	HandoffTemplate  string
	DefaultRegion    string
	Metrics          *metrics.Metrics
	Log              logrus.FieldLogger
}

func (s *ReplyService) HandleInbound(ctx context.Context, in InboundSMS, now time.Time) (*ReplyResult, error) {
	if err := validation.ValidateStruct(in); err != nil {
		return nil, err
	}
	leadPhone, err := phone.Normalize(in.From, s.DefaultRegion)
	if err != nil {
		return nil, appErrors.NewValidationError("from is invalid")
	}
	businessNumber, err := phone.Normalize(in.To, s.DefaultRegion)
	if err != nil {
		return nil, appErrors.NewValidationError("to is invalid")
	}

	conv, err := s.ConversationRepo.FindLatestByPhone(ctx, businessNumber, leadPhone)
	if err != nil {
		return nil, err
	}
	log := s.log().WithField("conversation_id", conv.ID)

	msg := &model.Message{
		ConversationID: conv.ID,
		SenderType:     model.SenderLead,
		Content:        in.Body,
		CreatedAt:      now,
	}
	if in.ProviderMessageID != "" {
		msg.Metadata = map[string]string{"provider_message_id": in.ProviderMessageID}
	}
	if err := s.MessageRepo.RecordMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("record reply: %w", err)
	}

	paused, err := s.Engine.HandleReply(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	result := &ReplyResult{ConversationID: conv.ID, PausedEnrollments: paused}
	if result.PausedEnrollments == nil {
		result.PausedEnrollments = []int64{}
	}

	keyword := MatchEscalation(in.Body, s.Keywords)
	switch {
	case conv.Escalated:
		// A person already owns this conversation.
		result.Escalated = true
	case keyword != "":
		result.Escalated = true
		result.MatchedKeyword = keyword
		if err := s.escalate(ctx, log, conv, keyword, in.Body, now, result); err != nil {
			return nil, err
		}
	default:
		s.publish(ctx, log, queue.TopicReply, model.ReplyEvent{
			ConversationID: conv.ID,
			TenantID:       conv.TenantID,
			LeadPhone:      conv.LeadPhone,
			Message:        in.Body,
			OccurredAt:     now,
		})
	}

	s.Metrics.Reply(result.Escalated)
	logger.LogEvent(log, "lead_replied", map[string]interface{}{
		"paused":    len(result.PausedEnrollments),
		"escalated": result.Escalated,
	})
	return result, nil
}

func (s *ReplyService) escalate(ctx context.Context, log logrus.FieldLogger, conv *model.Conversation, keyword, body string, now time.Time, result *ReplyResult) error {
	if err := s.ConversationRepo.MarkEscalated(ctx, conv.ID); err != nil {
		return fmt.Errorf("mark escalated: %w", err)
	}
	log.WithField("keyword", keyword).Warn("🙋 Conversation escalated to a human")

	profile, err := s.ProfileRepo.GetBusinessProfile(ctx, conv.TenantID)
	if err != nil && !appErrors.IsNotFound(err) {
		return fmt.Errorf("load business profile: %w", err)
	}
	if err != nil {
		profile = nil
	}

	tmpl := s.HandoffTemplate
	if tmpl == "" {
		tmpl = DefaultHandoffTemplate
	}
	lead := LeadFromName(conv.LeadName, conv.LeadPhone, conv.LeadSource)
	handoff := RenderTemplate(tmpl, BuildVariables(lead, profile, nil))

	reply := &model.Message{
		ConversationID: conv.ID,
		SenderType:     model.SenderAgent,
		Content:        handoff,
		Metadata:       map[string]string{"kind": "handoff"},
	}
	res, sendErr := s.Gateway.Send(ctx, conv.BusinessNumber, conv.LeadPhone, handoff)
	switch {
	case sendErr != nil:
		reply.DeliveryStatus, reply.LastError = model.DeliveryFailed, sendErr.Error()
	case res == nil || !res.Success:
		reply.DeliveryStatus = model.DeliveryFailed
		if res != nil {
			reply.LastError, reply.ProviderMessageID = res.Error, res.ProviderMessageID
		}
	default:
		reply.DeliveryStatus, reply.ProviderMessageID = model.DeliverySent, res.ProviderMessageID
		result.HandoffSent = true
	}
	s.Metrics.Message(reply.DeliveryStatus)
	if err := s.MessageRepo.RecordMessage(ctx, reply); err != nil {
		log.WithError(err).Error("failed to record hand-off message")
	}
	if !result.HandoffSent {
		logger.LogError(log, "handoff_failed", errors.New(reply.LastError), nil)
	}

	s.publish(ctx, log, queue.TopicEscalated, model.EscalationEvent{
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		LeadPhone:      conv.LeadPhone,
		LeadName:       conv.LeadName,
		BusinessNumber: conv.BusinessNumber,
		Keyword:        keyword,
		Message:        body,
		OccurredAt:     now,
	})
	return nil
}

// publish is best effort: the reply is already stored by the time events go
// out.
func (s *ReplyService) publish(ctx context.Context, log logrus.FieldLogger, topic string, event any) {
	if s.Queue == nil {
		return
	}
	err := s.Queue.Publish(ctx, topic, event)
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrNoSubscribers):
		log.WithField("topic", topic).Debug("no consumer for event")
	default:
		log.WithError(err).WithField("topic", topic).Error("failed to publish event")
	}
}

func (s *ReplyService) log() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log
	}
	return logrus.StandardLogger()
}

// MatchEscalation returns the first keyword found in text as a whole word or
// phrase, ignoring case and runs of whitespace. It returns "" when none match.
func MatchEscalation(text string, keywords []string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	for _, kw := range keywords {
		needle := strings.Join(strings.Fields(strings.ToLower(kw)), " ")
		if needle != "" && containsWord(normalized, needle) {
			return kw
		}
	}
	return ""
}

func containsWord(haystack, needle string) bool {
	for offset := 0; offset <= len(haystack)-len(needle); {
		i := strings.Index(haystack[offset:], needle)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(needle)
		if isBoundary(haystack, start-1) && isBoundary(haystack, end) {
			return true
		}
		offset = start + 1
	}
	return false
}

// isBoundary is true when the byte at i is outside the string or not part
// of a word.
func isBoundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	if r >= 0x80 {
		return false
	}
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
