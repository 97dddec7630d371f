// Command notifyctl is an operator tool for the notification service: it
// emits domain events onto the queue, runs a maintenance pass against the
// database and mints development tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"notification-service/internal/config"
	"notification-service/internal/events"
	"notification-service/internal/repository"
	"notification-service/internal/service"
	"notification-service/pkg/auth"
	"notification-service/pkg/db"
	"notification-service/pkg/logger"
	"notification-service/pkg/mq"
)

const usage = `usage: notifyctl <command> [flags]

commands:
  emit     publish a domain event to the events exchange
  cleanup  archive old dismissed notifications and delete expired ones
  token    print a signed bearer token
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "emit":
		err = runEmit(os.Args[2:])
	case "cleanup":
		err = runCleanup(os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "notifyctl:", err)
		os.Exit(1)
	}
}

func runEmit(args []string) error {
	fs := pflag.NewFlagSet("emit", pflag.ExitOnError)
	kind := fs.StringP("kind", "k", "", "event kind, e.g. CV_REVIEW_COMPLETED")
	userID := fs.StringP("user", "u", "", "target user id")
	fields := fs.StringArrayP("field", "f", nil, "event field as key=value (repeatable)")
	eventID := fs.String("event-id", "", "event id (random when empty)")
	routingKey := fs.String("routing-key", "", "routing key (domain.<kind> when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *kind == "" || *userID == "" {
		return fmt.Errorf("--kind and --user are required")
	}

	parsed, err := parseFields(*fields)
	if err != nil {
		return err
	}

	ev := events.DomainEvent{
		EventID:    *eventID,
		Kind:       events.Kind(strings.ToUpper(*kind)),
		UserID:     *userID,
		Fields:     parsed,
		OccurredAt: time.Now().UTC(),
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	key := *routingKey
	if key == "" {
		key = "domain." + strings.ToLower(string(ev.Kind))
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	publisher, err := mq.NewPublisher(cfg.MQ.URL, "notifyctl")
	if err != nil {
		return err
	}
	defer publisher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := publisher.Publish(ctx, key, ev); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	fmt.Printf("published %s (%s) for user %s on %s\n", ev.EventID, ev.Kind, ev.UserID, key)
	return nil
}

func runCleanup(args []string) error {
	fs := pflag.NewFlagSet("cleanup", pflag.ExitOnError)
	olderThan := fs.Duration("older-than", 0, "delete notifications older than this (configured retention when 0)")
	archiveAfter := fs.Duration("archive-after", 0, "archive dismissed notifications older than this (configured value when 0)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Store.Driver != config.StoreDriverPostgres {
		return fmt.Errorf("cleanup needs the postgres store, got %q", cfg.Store.Driver)
	}
	if *olderThan <= 0 {
		*olderThan = cfg.Notification.Retention
	}
	if *archiveAfter <= 0 {
		*archiveAfter = cfg.Notification.ArchiveDismissedAfter
	}

	log := logger.NewLogger(cfg.Server.LogLevel)
	defer log.Sync() //nolint:errcheck

	pool, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := service.NewNotificationService(repository.NewNotificationRepository(pool, log), nil, log)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	archived, err := svc.ArchiveDismissed(ctx, *archiveAfter)
	if err != nil {
		return err
	}
	removed, err := svc.Cleanup(ctx, *olderThan)
	if err != nil {
		return err
	}

	log.Info("Cleanup finished", zap.Int64("archived", archived), zap.Int64("removed", removed))
	fmt.Printf("archived %d, removed %d\n", archived, removed)
	return nil
}

func runToken(args []string) error {
	fs := pflag.NewFlagSet("token", pflag.ExitOnError)
	userID := fs.StringP("user", "u", "", "user id")
	role := fs.StringP("role", "r", "user", "role claim (user or admin)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("--user is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	tok, err := auth.GenerateJWT(cfg.JWT.Secret, *userID, *role, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

// parseFields turns key=value pairs into event fields. Values stay strings;
// templates convert numbers and times themselves.
func parseFields(pairs []string) (events.Fields, error) {
	out := make(events.Fields, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid field %q, want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
