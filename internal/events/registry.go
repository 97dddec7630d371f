// Package events turns domain events from other parts of the platform into
// user notifications.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"notification-service/internal/model"
)

var ErrUnknownKind = errors.New("unknown event kind")

// Kind names a domain event, e.g. CV_REVIEW_COMPLETED.
type Kind string

const (
	KindCVReviewCompleted        Kind = "CV_REVIEW_COMPLETED"
	KindNewMessage               Kind = "NEW_MESSAGE"
	KindApplicationStatusUpdated Kind = "APPLICATION_STATUS_UPDATED"
	KindProfileUpdateReminder    Kind = "PROFILE_UPDATE_REMINDER"
	KindJobRecommendation        Kind = "JOB_RECOMMENDATION"
	KindInterviewScheduled       Kind = "INTERVIEW_SCHEDULED"
	KindSkillAssessmentComplete  Kind = "SKILL_ASSESSMENT_COMPLETE"
	KindSystemMaintenance        Kind = "SYSTEM_MAINTENANCE"
	KindSecurityAlert            Kind = "SECURITY_ALERT"
	KindSystemNotification       Kind = "SYSTEM_NOTIFICATION"
	KindSuccessStoryApproved     Kind = "SUCCESS_STORY_APPROVED"
	KindSuccessStoryRejected     Kind = "SUCCESS_STORY_REJECTED"
)

// Fields is the free-form event payload. Values arrive from JSON, so numbers
// are usually float64 and times are strings.
type Fields map[string]any

// String returns the trimmed string under key, or def when missing or blank.
func (f Fields) String(key, def string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return def
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprint(t)
	}
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

// Int returns the integer under key, or def when missing or not numeric.
func (f Fields) Int(key string, def int) int {
	switch t := f[key].(type) {
	case int:
		return t
	case int32:
		return int(t)
	case int64:
		return int(t)
	case float64:
		return int(math.Round(t))
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if fl, err := t.Float64(); err == nil {
			return int(math.Round(fl))
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return def
}

// Time returns the time under key. RFC 3339 strings are parsed.
func (f Fields) Time(key string) (time.Time, bool) {
	switch t := f[key].(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(t))
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

// Draft is what a template produces: everything needed to create the
// notification except the user.
type Draft struct {
	Type            model.Type
	Title           string
	Message         string
	Priority        model.Priority
	RelatedEntityID string
	ActionURL       string
	// TTL is measured from the creation time. Zero means no expiry unless
	// ExpiresAt is set.
	TTL       time.Duration
	ExpiresAt *time.Time
	Metadata  map[string]any
}

// Expiry resolves TTL or ExpiresAt against now.
func (s Draft) Expiry(now time.Time) *time.Time {
	if s.ExpiresAt != nil {
		t := s.ExpiresAt.UTC()
		return &t
	}
	if s.TTL > 0 {
		t := now.Add(s.TTL).UTC()
		return &t
	}
	return nil
}

// Template maps event fields to a notification. now is the time the
// notification is being created.
type Template func(f Fields, now time.Time) Draft

// Registry holds templates by kind and is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	templates map[Kind]Template
}

// NewRegistry returns a registry preloaded with the built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[Kind]Template, len(builtins))}
	for kind, tmpl := range builtins {
		r.templates[kind] = tmpl
	}
	return r
}

// Register adds or replaces the template for kind.
func (r *Registry) Register(kind Kind, tmpl Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[kind] = tmpl
}

func (r *Registry) Lookup(kind Kind) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tmpl, ok := r.templates[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return tmpl, nil
}

// Kinds lists the registered kinds in lexical order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.templates))
	for k := range r.templates {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
