package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	var syntaxErr error
	{
		var v map[string]any
		syntaxErr = json.Unmarshal([]byte("{"), &v)
	}

	tests := []struct {
		name      string
		err       error
		retryable bool
		errType   string
	}{
		{name: "nil", err: nil, retryable: false, errType: ""},
		{name: "permanent wrapper wins", err: Permanent(context.DeadlineExceeded), retryable: false, errType: "permanent"},
		{name: "json", err: fmt.Errorf("decode: %w", syntaxErr), retryable: false, errType: "json_decode_error"},
		{name: "no rows", err: fmt.Errorf("failed to find: %w", pgx.ErrNoRows), retryable: false, errType: "not_found"},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, retryable: false, errType: "duplicate_key"},
		{name: "not null violation", err: &pgconn.PgError{Code: "23502"}, retryable: false, errType: "constraint_violation"},
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, retryable: true, errType: "db_transient_error"},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, retryable: true, errType: "db_transient_error"},
		{name: "other db error", err: &pgconn.PgError{Code: "42P01"}, retryable: false, errType: "db_error"},
		{name: "deadline", err: fmt.Errorf("save: %w", context.DeadlineExceeded), retryable: true, errType: "timeout"},
		{name: "canceled", err: context.Canceled, retryable: false, errType: "context_canceled"},
		{name: "net op error", err: &net.OpError{Op: "dial", Err: errors.New("refused")}, retryable: true, errType: "network_error"},
		{name: "connection text", err: errors.New("connection reset by peer"), retryable: true, errType: "connection_error"},
		{name: "unknown", err: errors.New("boom"), retryable: false, errType: "unknown_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			retryable, errType := IsRetryableError(tt.err)
			if retryable != tt.retryable || errType != tt.errType {
				t.Errorf("IsRetryableError(%v) = (%v, %q), want (%v, %q)", tt.err, retryable, errType, tt.retryable, tt.errType)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	if !ShouldRetry(1, 3, true) || !ShouldRetry(3, 3, true) {
		t.Error("ShouldRetry() = false within the limit")
	}
	if ShouldRetry(4, 3, true) {
		t.Error("ShouldRetry() = true past the limit")
	}
	if ShouldRetry(1, 3, false) {
		t.Error("ShouldRetry() = true for a permanent error")
	}
}

func TestKeyFormats(t *testing.T) {
	t.Parallel()

	if got := FormatDedupKey("domain_event", "e-1"); got != "dedup:domain_event:e-1" {
		t.Errorf("FormatDedupKey() = %q", got)
	}
	if got := FormatRetryKey("domain_event", "e-1"); got != "retry:domain_event:e-1" {
		t.Errorf("FormatRetryKey() = %q", got)
	}
}
