package model

import (
	"errors"
	"testing"
)

func TestParseType(t *testing.T) {
	t.Parallel()

	got, err := ParseType("new_message")
	if err != nil || got != TypeNewMessage {
		t.Errorf("ParseType() = %q, %v", got, err)
	}
	if _, err := ParseType("BOGUS"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("ParseType(BOGUS) error = %v, want ErrUnknownType", err)
	}
}

func TestRegisterType(t *testing.T) {
	t.Parallel()

	custom := Type("WEBINAR_REMINDER")
	if err := RegisterType(custom, TypeInfo{DefaultTitle: "Webinar", DefaultMessage: "Starts soon"}); err != nil {
		t.Fatalf("RegisterType() error = %v", err)
	}
	info, ok := LookupType(custom)
	if !ok || info.DefaultTitle != "Webinar" {
		t.Errorf("LookupType() = %+v, %v", info, ok)
	}

	if err := RegisterType("BROKEN", TypeInfo{DefaultTitle: "x"}); err == nil {
		t.Error("RegisterType() without default message succeeded")
	}
}

func TestParsePriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{in: "", want: PriorityMedium},
		{in: "high", want: PriorityHigh},
		{in: "LOW", want: PriorityLow},
		{in: "urgent", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePriority(%q) = %q, %v", tt.in, got, err)
		}
	}
}
