package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"notification-service/internal/model"
	"notification-service/internal/service"
)

var ErrInvalidEvent = errors.New("invalid domain event")

// DomainEvent is the wire form of an event published by another service.
type DomainEvent struct {
	EventID    string    `json:"event_id"`
	Kind       Kind      `json:"kind"`
	UserID     string    `json:"user_id"`
	Fields     Fields    `json:"fields,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Creator is the part of the notification service the publisher needs.
type Creator interface {
	Create(ctx context.Context, req service.CreateRequest) (*model.Notification, error)
}

type Publisher struct {
	creator  Creator
	registry *Registry
	logger   *zap.Logger
	now      func() time.Time
}

func NewPublisher(creator Creator, registry *Registry, logger *zap.Logger) *Publisher {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Publisher{
		creator:  creator,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// Kinds lists the event kinds Dispatch accepts.
func (p *Publisher) Kinds() []Kind {
	return p.registry.Kinds()
}

// Dispatch renders ev with its template and creates the notification.
// Unlike the Publish helpers it returns every error to the caller.
func (p *Publisher) Dispatch(ctx context.Context, ev DomainEvent) (*model.Notification, error) {
	userID := strings.TrimSpace(ev.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidEvent)
	}

	tmpl, err := p.registry.Lookup(ev.Kind)
	if err != nil {
		return nil, err
	}

	now := p.now().UTC()
	draft := tmpl(ev.Fields, now)

	metadata := draft.Metadata
	if ev.EventID != "" {
		if metadata == nil {
			metadata = make(map[string]any, 1)
		}
		metadata["event_id"] = ev.EventID
	}

	return p.creator.Create(ctx, service.CreateRequest{
		UserID:          userID,
		Type:            draft.Type,
		Title:           draft.Title,
		Message:         draft.Message,
		Priority:        draft.Priority,
		RelatedEntityID: draft.RelatedEntityID,
		ActionURL:       draft.ActionURL,
		ExpiresAt:       draft.Expiry(now),
		Metadata:        metadata,
	})
}

// Publish dispatches an event and logs instead of returning failures, for
// callers that must not be affected by notification problems.
func (p *Publisher) Publish(ctx context.Context, userID string, kind Kind, fields Fields) {
	n, err := p.Dispatch(ctx, DomainEvent{Kind: kind, UserID: userID, Fields: fields})
	if err != nil {
		p.logger.Error("Failed to publish notification",
			zap.String("user_id", userID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return
	}
	p.logger.Info("Published notification",
		zap.String("user_id", userID),
		zap.String("kind", string(kind)),
		zap.String("notification_id", n.ID),
	)
}

func (p *Publisher) PublishCVReviewCompleted(ctx context.Context, userID, cvID, reviewerName, feedback string) {
	p.Publish(ctx, userID, KindCVReviewCompleted, Fields{
		"cv_id":         cvID,
		"reviewer_name": reviewerName,
		"feedback":      feedback,
	})
}

func (p *Publisher) PublishNewMessage(ctx context.Context, userID, senderID, senderName, preview, conversationID string) {
	p.Publish(ctx, userID, KindNewMessage, Fields{
		"sender_id":       senderID,
		"sender_name":     senderName,
		"message_preview": preview,
		"conversation_id": conversationID,
	})
}

func (p *Publisher) PublishApplicationStatusUpdate(ctx context.Context, userID, jobTitle, companyName, newStatus, applicationID string) {
	p.Publish(ctx, userID, KindApplicationStatusUpdated, Fields{
		"job_title":      jobTitle,
		"company_name":   companyName,
		"new_status":     newStatus,
		"application_id": applicationID,
	})
}

func (p *Publisher) PublishProfileUpdateReminder(ctx context.Context, userID string) {
	p.Publish(ctx, userID, KindProfileUpdateReminder, Fields{"user_id": userID})
}

func (p *Publisher) PublishJobRecommendation(ctx context.Context, userID, jobTitle, companyName, jobID string, matchPercentage int) {
	p.Publish(ctx, userID, KindJobRecommendation, Fields{
		"job_title":        jobTitle,
		"company_name":     companyName,
		"job_id":           jobID,
		"match_percentage": matchPercentage,
	})
}

func (p *Publisher) PublishInterviewScheduled(ctx context.Context, userID, jobTitle, companyName string, at time.Time, interviewID string) {
	p.Publish(ctx, userID, KindInterviewScheduled, Fields{
		"job_title":    jobTitle,
		"company_name": companyName,
		"interview_at": at,
		"interview_id": interviewID,
	})
}

func (p *Publisher) PublishSkillAssessmentComplete(ctx context.Context, userID, skillName string, score int, assessmentID string) {
	p.Publish(ctx, userID, KindSkillAssessmentComplete, Fields{
		"skill_name":    skillName,
		"score":         score,
		"assessment_id": assessmentID,
	})
}

func (p *Publisher) PublishSystemMaintenance(ctx context.Context, userID, title, message string, scheduledAt time.Time) {
	p.Publish(ctx, userID, KindSystemMaintenance, Fields{
		"title":        title,
		"message":      message,
		"scheduled_at": scheduledAt,
	})
}

func (p *Publisher) PublishSecurityAlert(ctx context.Context, userID, alertType, message string) {
	p.Publish(ctx, userID, KindSecurityAlert, Fields{
		"alert_type": alertType,
		"message":    message,
	})
}

func (p *Publisher) PublishSystemNotification(ctx context.Context, userID, title, message string, priority model.Priority, actionURL string) {
	p.Publish(ctx, userID, KindSystemNotification, Fields{
		"title":      title,
		"message":    message,
		"priority":   string(priority),
		"action_url": actionURL,
	})
}
