// Package notify persists donor-facing notifications and hands them to the
// notification pipeline through the outbox.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tareq-aziz/lifeline/libs/db"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/booking"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/model"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/outbox"
)

// Notifier implements booking.NotificationSink. The notification row and its
// outbox event commit in one transaction, so a stored notification is always
// eventually delivered and a delivered one is always on record.
type Notifier struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewNotifier(pool *db.Pool, outboxRepo *outbox.Repository) *Notifier {
	return &Notifier{pool: pool, outbox: outboxRepo}
}

type eventPayload struct {
	NotificationID int64  `json:"notification_id"`
	AppointmentID  int64  `json:"appointment_id"`
	UserID         int64  `json:"user_id"`
	Category       string `json:"category"`
	Message        string `json:"message"`
}

func (n *Notifier) Send(ctx context.Context, note booking.Notification) error {
	tx, err := n.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO notifications (appointment_id, user_id, category, message)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, note.AppointmentID, note.UserID, note.Category, note.Message).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	payload, err := json.Marshal(eventPayload{
		NotificationID: id,
		AppointmentID:  note.AppointmentID,
		UserID:         note.UserID,
		Category:       note.Category,
		Message:        note.Message,
	})
	if err != nil {
		return err
	}

	err = n.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   strconv.FormatInt(id, 10),
		EventType:     outbox.TypeNotificationRequest,
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	if note.Status != "" {
		domainType := outbox.TypeAppointmentUpdated
		if note.Status == model.StatusScheduled {
			domainType = outbox.TypeAppointmentScheduled
		}
		domainPayload, err := json.Marshal(map[string]any{
			"appointment_id": note.AppointmentID,
			"user_id":        note.UserID,
			"status":         string(note.Status),
		})
		if err != nil {
			return err
		}
		err = n.outbox.Insert(ctx, tx, outbox.Event{
			AggregateType: "appointment",
			AggregateID:   strconv.FormatInt(note.AppointmentID, 10),
			EventType:     domainType,
			Payload:       domainPayload,
		})
		if err != nil {
			return fmt.Errorf("insert domain event: %w", err)
		}
	}
	return tx.Commit(ctx)
}
