package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var ErrUnknownType = errors.New("unknown notification type")

// Type is a notification category. The set is open: other packages add kinds
// with RegisterType.
type Type string

const (
	TypeCVReviewComplete         Type = "CV_REVIEW_COMPLETE"
	TypeCVReviewStarted          Type = "CV_REVIEW_STARTED"
	TypeNewMessage               Type = "NEW_MESSAGE"
	TypeApplicationStatusUpdated Type = "APPLICATION_STATUS_UPDATED"
	TypeProfileUpdateReminder    Type = "PROFILE_UPDATE_REMINDER"
	TypeNewFeedbackReceived      Type = "NEW_FEEDBACK_RECEIVED"
	TypeTaskCompleted            Type = "TASK_COMPLETED"
	TypeTaskAssigned             Type = "TASK_ASSIGNED"
	TypeSuccessStoryApproved     Type = "SUCCESS_STORY_APPROVED"
	TypeSuccessStoryRejected     Type = "SUCCESS_STORY_REJECTED"
	TypeSystemAnnouncement       Type = "SYSTEM_ANNOUNCEMENT"
	TypeSkillAssessmentComplete  Type = "SKILL_ASSESSMENT_COMPLETE"
	TypeSystemMaintenance        Type = "SYSTEM_MAINTENANCE"
	TypeSecurityAlert            Type = "SECURITY_ALERT"
	TypeSystemNotification       Type = "SYSTEM_NOTIFICATION"
	TypeJobRecommendation        Type = "JOB_RECOMMENDATION"
	TypeInterviewScheduled       Type = "INTERVIEW_SCHEDULED"
)

// TypeInfo holds the text used when a producer leaves title or message blank.
type TypeInfo struct {
	DefaultTitle   string
	DefaultMessage string
}

var (
	typesMu sync.RWMutex
	types   = map[Type]TypeInfo{
		TypeCVReviewComplete:         {"CV Review Complete", "Your CV review has been completed"},
		TypeCVReviewStarted:          {"CV Review Started", "Your CV review has been started"},
		TypeNewMessage:               {"New Message", "You have received a new message"},
		TypeApplicationStatusUpdated: {"Application Status Updated", "Your application status has been updated"},
		TypeProfileUpdateReminder:    {"Profile Update Reminder", "Please update your profile information"},
		TypeNewFeedbackReceived:      {"New Feedback Received", "You have received new feedback"},
		TypeTaskCompleted:            {"Task Completed", "A task has been completed"},
		TypeTaskAssigned:             {"Task Assigned", "A new task has been assigned to you"},
		TypeSuccessStoryApproved:     {"Success Story Approved", "Your success story has been approved"},
		TypeSuccessStoryRejected:     {"Success Story Rejected", "Your success story needs revision"},
		TypeSystemAnnouncement:       {"System Announcement", "Important system announcement"},
		TypeSkillAssessmentComplete:  {"Skill Assessment Complete", "Your skill assessment has been completed"},
		TypeSystemMaintenance:        {"System Maintenance", "System maintenance notification"},
		TypeSecurityAlert:            {"Security Alert", "Security alert notification"},
		TypeSystemNotification:       {"System Notification", "General system notification"},
		TypeJobRecommendation:        {"Job Recommendation", "A new job matches your profile"},
		TypeInterviewScheduled:       {"Interview Scheduled", "An interview has been scheduled"},
	}
)

// RegisterType adds or replaces a notification type. Both defaults are required.
func RegisterType(t Type, info TypeInfo) error {
	if strings.TrimSpace(string(t)) == "" {
		return fmt.Errorf("%w: empty type name", ErrInvalidNotification)
	}
	if strings.TrimSpace(info.DefaultTitle) == "" || strings.TrimSpace(info.DefaultMessage) == "" {
		return fmt.Errorf("%w: type %s needs a default title and message", ErrInvalidNotification, t)
	}

	typesMu.Lock()
	defer typesMu.Unlock()
	types[t] = info
	return nil
}

func LookupType(t Type) (TypeInfo, bool) {
	typesMu.RLock()
	defer typesMu.RUnlock()
	info, ok := types[t]
	return info, ok
}

// ParseType accepts a registered type name in any case.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := LookupType(t); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// Types returns every registered type in name order.
func Types() []Type {
	typesMu.RLock()
	out := make([]Type, 0, len(types))
	for t := range types {
		out = append(out, t)
	}
	typesMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
