package events

import (
	"fmt"
	"strings"
	"time"

	"notification-service/internal/model"
)

const (
	newMessageTTL         = 7 * 24 * time.Hour
	profileReminderTTL    = 3 * 24 * time.Hour
	jobRecommendationTTL  = 14 * 24 * time.Hour
	systemNotificationTTL = 30 * 24 * time.Hour
	maintenanceWindow     = 2 * time.Hour

	feedbackPreviewLen = 100
	messagePreviewLen  = 50

	highScore = 80
)

var builtins = map[Kind]Template{
	KindCVReviewCompleted:        cvReviewCompleted,
	KindNewMessage:               newMessage,
	KindApplicationStatusUpdated: applicationStatusUpdated,
	KindProfileUpdateReminder:    profileUpdateReminder,
	KindJobRecommendation:        jobRecommendation,
	KindInterviewScheduled:       interviewScheduled,
	KindSkillAssessmentComplete:  skillAssessmentComplete,
	KindSystemMaintenance:        systemMaintenance,
	KindSecurityAlert:            securityAlert,
	KindSystemNotification:       systemNotification,
	KindSuccessStoryApproved:     successStory(model.TypeSuccessStoryApproved),
	KindSuccessStoryRejected:     successStory(model.TypeSuccessStoryRejected),
}

// truncate cuts s to n runes and marks the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func cvReviewCompleted(f Fields, _ time.Time) Draft {
	cvID := f.String("cv_id", "")
	reviewer := f.String("reviewer_name", "")
	by := reviewer
	if by == "" {
		by = "our team"
		reviewer = "System"
	}
	return Draft{
		Type:            model.TypeCVReviewComplete,
		Title:           "CV Review Complete",
		Message:         fmt.Sprintf("Your CV review has been completed by %s. Check your feedback now!", by),
		Priority:        model.PriorityHigh,
		RelatedEntityID: cvID,
		ActionURL:       "/dashboard/cv-reviews/" + cvID,
		Metadata: map[string]any{
			"cv_id":            cvID,
			"reviewer_name":    reviewer,
			"feedback_preview": truncate(f.String("feedback", "No feedback provided"), feedbackPreviewLen),
		},
	}
}

func newMessage(f Fields, _ time.Time) Draft {
	sender := f.String("sender_name", "Unknown User")
	conversationID := f.String("conversation_id", "")
	return Draft{
		Type:            model.TypeNewMessage,
		Title:           "New Message",
		Message:         fmt.Sprintf("You have a new message from %s", sender),
		Priority:        model.PriorityMedium,
		RelatedEntityID: conversationID,
		ActionURL:       "/messages/" + conversationID,
		TTL:             newMessageTTL,
		Metadata: map[string]any{
			"sender_id":       f.String("sender_id", ""),
			"sender_name":     sender,
			"message_preview": truncate(f.String("message_preview", "New message"), messagePreviewLen),
			"conversation_id": conversationID,
		},
	}
}

// applicationPriority is HIGH for decisive outcomes and MEDIUM for progress
// updates. A missing status counts as decisive.
func applicationPriority(status string) model.Priority {
	if status == "" {
		return model.PriorityHigh
	}
	s := strings.ToLower(status)
	for _, word := range []string{"accept", "offer", "reject", "decline"} {
		if strings.Contains(s, word) {
			return model.PriorityHigh
		}
	}
	return model.PriorityMedium
}

func applicationStatusUpdated(f Fields, _ time.Time) Draft {
	jobTitle := f.String("job_title", "")
	company := f.String("company_name", "")
	status := f.String("new_status", "")
	applicationID := f.String("application_id", "")

	verb := "updated"
	if status != "" {
		verb = strings.ToLower(status)
	}
	return Draft{
		Type:  model.TypeApplicationStatusUpdated,
		Title: "Application Status Updated",
		Message: fmt.Sprintf("Your application for %s at %s has been %s",
			orDefault(jobTitle, "a position"), orDefault(company, "the company"), verb),
		Priority:        applicationPriority(status),
		RelatedEntityID: applicationID,
		ActionURL:       "/dashboard/applications/" + applicationID,
		Metadata: map[string]any{
			"job_title":      orDefault(jobTitle, "Unknown Position"),
			"company_name":   orDefault(company, "Unknown Company"),
			"new_status":     orDefault(status, "Unknown"),
			"application_id": applicationID,
		},
	}
}

func profileUpdateReminder(f Fields, _ time.Time) Draft {
	return Draft{
		Type:            model.TypeProfileUpdateReminder,
		Title:           "Complete Your Profile",
		Message:         "Your profile is incomplete. Complete it now to increase your chances of getting hired!",
		Priority:        model.PriorityMedium,
		RelatedEntityID: f.String("user_id", ""),
		ActionURL:       "/profile/edit",
		TTL:             profileReminderTTL,
		Metadata: map[string]any{
			"reminder_type": "PROFILE_COMPLETION",
		},
	}
}

func jobRecommendation(f Fields, _ time.Time) Draft {
	jobTitle := f.String("job_title", "")
	company := f.String("company_name", "")
	jobID := f.String("job_id", "")
	match := f.Int("match_percentage", 0)

	priority := model.PriorityMedium
	if match >= highScore {
		priority = model.PriorityHigh
	}
	return Draft{
		Type:  model.TypeJobRecommendation,
		Title: "New Job Recommendation",
		Message: fmt.Sprintf("We found a %d%% match for you: %s at %s",
			match, orDefault(jobTitle, "a great position"), orDefault(company, "an amazing company")),
		Priority:        priority,
		RelatedEntityID: jobID,
		ActionURL:       "/jobs/" + jobID,
		TTL:             jobRecommendationTTL,
		Metadata: map[string]any{
			"job_title":        orDefault(jobTitle, "Unknown Position"),
			"company_name":     orDefault(company, "Unknown Company"),
			"job_id":           jobID,
			"match_percentage": match,
		},
	}
}

func interviewScheduled(f Fields, _ time.Time) Draft {
	jobTitle := f.String("job_title", "")
	company := f.String("company_name", "")
	interviewID := f.String("interview_id", "")

	when, scheduled := "", "soon"
	if at, ok := f.Time("interview_at"); ok {
		when = at.UTC().Format(time.RFC3339)
		scheduled = at.UTC().Format("Jan 2, 2006 15:04 MST")
	}
	return Draft{
		Type:  model.TypeInterviewScheduled,
		Title: "Interview Scheduled",
		Message: fmt.Sprintf("Your interview for %s at %s has been scheduled for %s",
			orDefault(jobTitle, "a position"), orDefault(company, "the company"), scheduled),
		Priority:        model.PriorityHigh,
		RelatedEntityID: interviewID,
		ActionURL:       "/dashboard/interviews/" + interviewID,
		Metadata: map[string]any{
			"job_title":    orDefault(jobTitle, "Unknown Position"),
			"company_name": orDefault(company, "Unknown Company"),
			"interview_at": when,
			"interview_id": interviewID,
		},
	}
}

func skillAssessmentComplete(f Fields, _ time.Time) Draft {
	skill := f.String("skill_name", "")
	score := f.Int("score", 0)
	assessmentID := f.String("assessment_id", "")

	priority := model.PriorityMedium
	if score >= highScore {
		priority = model.PriorityHigh
	}
	return Draft{
		Type:            model.TypeSkillAssessmentComplete,
		Title:           "Skill Assessment Complete",
		Message:         fmt.Sprintf("You scored %d%% on your %s assessment. Great job!", score, orDefault(skill, "skill")),
		Priority:        priority,
		RelatedEntityID: assessmentID,
		ActionURL:       "/dashboard/assessments/" + assessmentID,
		Metadata: map[string]any{
			"skill_name":    orDefault(skill, "Unknown Skill"),
			"score":         score,
			"assessment_id": assessmentID,
		},
	}
}

// systemMaintenance expires two hours after the scheduled start, or two
// hours from now when no start is given.
func systemMaintenance(f Fields, now time.Time) Draft {
	start, ok := f.Time("scheduled_at")
	scheduled := ""
	if ok {
		scheduled = start.UTC().Format(time.RFC3339)
	} else {
		start = now
	}
	expires := start.Add(maintenanceWindow).UTC()

	return Draft{
		Type:      model.TypeSystemMaintenance,
		Title:     f.String("title", "System Maintenance"),
		Message:   f.String("message", "Scheduled system maintenance will occur soon. Please save your work."),
		Priority:  model.PriorityMedium,
		ActionURL: "/dashboard",
		ExpiresAt: &expires,
		Metadata: map[string]any{
			"maintenance_type": "SYSTEM_MAINTENANCE",
			"scheduled_at":     scheduled,
		},
	}
}

func securityAlert(f Fields, now time.Time) Draft {
	return Draft{
		Type:      model.TypeSecurityAlert,
		Title:     "Security Alert",
		Message:   f.String("message", "We detected unusual activity on your account. Please review your security settings."),
		Priority:  model.PriorityHigh,
		ActionURL: "/profile/security",
		Metadata: map[string]any{
			"alert_type": f.String("alert_type", "GENERAL_SECURITY"),
			"timestamp":  now.UTC().Format(time.RFC3339),
		},
	}
}

func systemNotification(f Fields, now time.Time) Draft {
	priority, err := model.ParsePriority(f.String("priority", ""))
	if err != nil {
		priority = model.PriorityMedium
	}
	return Draft{
		Type:      model.TypeSystemNotification,
		Title:     f.String("title", "System Notification"),
		Message:   f.String("message", "You have a new system notification."),
		Priority:  priority,
		ActionURL: f.String("action_url", "/dashboard"),
		TTL:       systemNotificationTTL,
		Metadata: map[string]any{
			"notification_type": "SYSTEM_NOTIFICATION",
			"timestamp":         now.UTC().Format(time.RFC3339),
		},
	}
}

// successStory leaves title and message to the type defaults.
func successStory(t model.Type) Template {
	return func(f Fields, _ time.Time) Draft {
		storyID := f.String("story_id", "")
		draft := Draft{
			Type:            t,
			Priority:        model.PriorityMedium,
			RelatedEntityID: storyID,
			Metadata:        map[string]any{"story_id": storyID},
		}
		if storyID != "" {
			draft.ActionURL = "/success-stories/" + storyID
		}
		if reason := f.String("reason", ""); reason != "" {
			draft.Metadata["reason"] = reason
		}
		return draft
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
