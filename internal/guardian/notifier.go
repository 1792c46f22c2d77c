// Package guardian delivers best-effort safety alerts to a child's registered
// guardian contact after content is blocked. Delivery runs on a background
// worker with its own error boundary: nothing here may block or fail the
// sender's request, which has already completed by the time an alert is
// processed.
package guardian

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/safenest/safenest/internal/metrics"
	"github.com/safenest/safenest/internal/models"
	"github.com/safenest/safenest/internal/store"
)

// EmailSender is the external email-delivery collaborator.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Alert is one queued guardian notification.
type Alert struct {
	SenderID    uuid.UUID
	RoomID      uuid.UUID
	ContentKind models.ContentKind
	BlockedText string
	At          time.Time
}

// Notifier owns the bounded alert queue and the worker draining it.
type Notifier struct {
	db     store.DataStore
	sender EmailSender
	from   string
	logger zerolog.Logger

	queue chan Alert
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// NewNotifier creates a Notifier with a bounded queue. Start must be called
// before alerts are processed.
func NewNotifier(db store.DataStore, sender EmailSender, queueSize int, from string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		db:     db,
		sender: sender,
		from:   from,
		logger: logger.With().Str("component", "guardian").Logger(),
		queue:  make(chan Alert, queueSize),
	}
}

// Start launches the worker goroutine.
func (n *Notifier) Start() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for alert := range n.queue {
			n.process(alert)
		}
	}()
}

// NotifyAsync enqueues a guardian alert without blocking. When the queue is
// full the alert is dropped and counted; the sender path never waits here.
func (n *Notifier) NotifyAsync(blockedText string, senderID, roomID uuid.UUID, kind models.ContentKind) {
	alert := Alert{
		SenderID:    senderID,
		RoomID:      roomID,
		ContentKind: kind,
		BlockedText: blockedText,
		At:          time.Now().UTC(),
	}

	select {
	case n.queue <- alert:
		metrics.GuardianAlertsQueued.Inc()
	default:
		metrics.GuardianAlertsDropped.Inc()
		n.logger.Error().
			Str("sender_id", senderID.String()).
			Msg("guardian alert queue full, alert dropped")
	}
}

// Close stops accepting alerts and waits for the worker to drain the queue,
// bounded by the context deadline.
func (n *Notifier) Close(ctx context.Context) error {
	n.closeOnce.Do(func() { close(n.queue) })

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process handles one alert end to end. Every failure is logged and swallowed.
func (n *Notifier) process(alert Alert) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error().Interface("panic", r).Msg("guardian worker recovered")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sender, err := n.db.GetIdentity(ctx, alert.SenderID)
	if err != nil || sender == nil {
		metrics.GuardianAlertFailures.Inc()
		n.logger.Error().Err(err).Str("sender_id", alert.SenderID.String()).Msg("failed to load sender for alert")
		return
	}

	notified := false
	if sender.RequiresGuardianAlert && sender.GuardianEmail != "" {
		subject, body := n.compose(ctx, sender, alert)
		if err := n.sender.Send(ctx, sender.GuardianEmail, subject, body); err != nil {
			metrics.GuardianAlertFailures.Inc()
			n.logger.Error().Err(err).Str("sender_id", sender.ID.String()).Msg("guardian alert delivery failed")
		} else {
			notified = true
			n.logger.Info().Str("sender_id", sender.ID.String()).Msg("guardian alert delivered")
		}
	}
	// No guardian contact on file is a documented no-op, not an error.

	// Incident record for admin review, best-effort.
	inc := &models.Incident{
		IdentityID:       alert.SenderID,
		RoomID:           alert.RoomID,
		ContentKind:      alert.ContentKind,
		Preview:          Redact(alert.BlockedText),
		GuardianNotified: notified,
	}
	if err := n.db.RecordIncident(ctx, inc); err != nil {
		n.logger.Error().Err(err).Msg("failed to record safety incident")
	}
}

// compose builds the alert subject and body with room context.
func (n *Notifier) compose(ctx context.Context, sender *models.Identity, alert Alert) (subject, body string) {
	roomKind := "a conversation"
	var participants []string

	if room, err := n.db.GetRoom(ctx, alert.RoomID); err == nil && room != nil {
		if room.IsGroup {
			roomKind = "a group chat"
		} else {
			roomKind = "a direct chat"
		}
	}
	if members, err := n.db.ListRoomMembers(ctx, alert.RoomID); err == nil {
		for _, m := range members {
			if m.IdentityID == sender.ID {
				continue
			}
			if ident, err := n.db.GetIdentity(ctx, m.IdentityID); err == nil && ident != nil {
				participants = append(participants, ident.DisplayName)
			}
		}
	}

	subject = fmt.Sprintf("Safety alert: a message from %s was blocked", sender.DisplayName)

	var b strings.Builder
	fmt.Fprintf(&b, "A %s message sent by %s in %s was blocked by the safety filter.\n\n",
		alert.ContentKind, sender.DisplayName, roomKind)
	fmt.Fprintf(&b, "Time: %s\n", alert.At.Format(time.RFC1123))
	if len(participants) > 0 {
		fmt.Fprintf(&b, "Other participants: %s\n", strings.Join(participants, ", "))
	}
	fmt.Fprintf(&b, "Content preview: %s\n", Redact(alert.BlockedText))
	b.WriteString("\nThe message was not delivered to anyone. No action is required; this notice is for your awareness.\n")

	return subject, b.String()
}

// Redact trims blocked content to a short preview so full unsafe text is
// never stored or mailed.
func Redact(text string) string {
	const max = 48
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
