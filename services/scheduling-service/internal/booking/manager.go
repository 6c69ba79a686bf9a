// Package booking owns the appointment lifecycle: creation, rescheduling,
// status transitions, and cancel-before-the-fact deletion, together with the
// donor-state side effects those transitions trigger.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/availability"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/calendar"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/eligibility"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/model"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/policy"
)

// Actor identifies the already-authorized caller of an operation. The HTTP
// layer enforces ownership (donors on their own appointments, bank staff on
// their own bank) before invoking the manager; the manager only records who
// acted.
type Actor struct {
	UserID string
	Role   string
}

type Manager struct {
	appointments AppointmentStore
	donors       DonorStore
	banks        BankStore
	notifier     NotificationSink
	policy       policy.Provider
	planner      *availability.Planner
	logger       *slog.Logger
	now          func() time.Time
}

func NewManager(
	appointments AppointmentStore,
	donors DonorStore,
	banks BankStore,
	notifier NotificationSink,
	policyProvider policy.Provider,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		appointments: appointments,
		donors:       donors,
		banks:        banks,
		notifier:     notifier,
		policy:       policyProvider,
		planner:      availability.NewPlanner(appointments),
		logger:       logger,
		now:          time.Now,
	}
}

type CreateRequest struct {
	DonorID         int64
	BankID          int64
	At              time.Time
	Kind            string
	DurationMinutes int
	Notes           string
}

// Create books a new appointment. The slot conflict is checked twice: a fast
// read before eligibility evaluation and again by the store at write time,
// which is the authoritative check under concurrency.
func (m *Manager) Create(ctx context.Context, actor Actor, req CreateRequest) (model.Appointment, error) {
	now := m.now().UTC()
	if req.At.IsZero() || !req.At.After(now) {
		return model.Appointment{}, reject(CodeInvalidTimestamp)
	}

	if _, err := m.banks.Get(ctx, req.BankID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Appointment{}, reject(CodeBankNotFound)
		}
		return model.Appointment{}, fmt.Errorf("load bank %d: %w", req.BankID, err)
	}

	donor, err := m.donors.Get(ctx, req.DonorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Appointment{}, reject(CodeDonorNotFound)
		}
		return model.Appointment{}, fmt.Errorf("load donor %d: %w", req.DonorID, err)
	}

	rules, err := m.bankRules(ctx, req.BankID)
	if err != nil {
		return model.Appointment{}, err
	}
	if ok, reason := eligibility.Evaluate(&donor, req.At, rules.Eligibility()); !ok {
		return model.Appointment{}, rejectIneligible(reason)
	}

	taken, err := m.appointments.FindConflicting(ctx, req.BankID, req.At, 0)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("conflict check: %w", err)
	}
	if taken {
		return model.Appointment{}, reject(CodeSlotTaken)
	}

	appt := model.Appointment{
		DonorID:         req.DonorID,
		BankID:          req.BankID,
		ScheduledAt:     req.At,
		Kind:            req.Kind,
		DurationMinutes: req.DurationMinutes,
		Status:          model.StatusScheduled,
		Notes:           req.Notes,
	}
	if appt.Kind == "" {
		appt.Kind = model.KindDonation
	}
	if appt.DurationMinutes <= 0 {
		appt.DurationMinutes = int(rules.DefaultDuration / time.Minute)
	}

	if err := m.appointments.Insert(ctx, &appt); err != nil {
		if errors.Is(err, ErrSlotConflict) {
			return model.Appointment{}, reject(CodeSlotTaken)
		}
		return model.Appointment{}, fmt.Errorf("insert appointment: %w", err)
	}

	m.logger.Info("appointment created",
		"appointment_id", appt.ID,
		"donor_id", appt.DonorID,
		"bank_id", appt.BankID,
		"scheduled_at", appt.ScheduledAt,
		"actor_role", actor.Role,
		"actor", actor.UserID,
	)
	m.sendStatusNotification(ctx, appt, donor.UserID, model.StatusScheduled)
	return appt, nil
}

// Reschedule moves an appointment to a new future timestamp. Eligibility is
// not re-evaluated; it was validated at creation and only explicit status
// changes touch donor state.
func (m *Manager) Reschedule(ctx context.Context, actor Actor, appointmentID int64, newAt time.Time) error {
	now := m.now().UTC()
	if newAt.IsZero() || !newAt.After(now) {
		return reject(CodeInvalidTimestamp)
	}

	appt, err := m.getAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if !appt.Status.Active() {
		return reject(CodeInvalidTransition)
	}

	// Explicit self-exclusion: moving onto the appointment's own current
	// timestamp is a no-op, not a conflict.
	taken, err := m.appointments.FindConflicting(ctx, appt.BankID, newAt, appt.ID)
	if err != nil {
		return fmt.Errorf("conflict check: %w", err)
	}
	if taken {
		return reject(CodeSlotTaken)
	}

	if err := m.appointments.Reschedule(ctx, appointmentID, newAt); err != nil {
		switch {
		case errors.Is(err, ErrSlotConflict):
			return reject(CodeSlotTaken)
		case errors.Is(err, ErrNotFound):
			return reject(CodeAppointmentNotFound)
		}
		return fmt.Errorf("reschedule appointment %d: %w", appointmentID, err)
	}

	m.logger.Info("appointment rescheduled",
		"appointment_id", appointmentID,
		"new_time", newAt,
		"actor_role", actor.Role,
		"actor", actor.UserID,
	)
	return nil
}

// ChangeStatus applies a transition from the validity table. A no_show
// transition additionally suspends the donor's eligibility and bumps their
// no-show counter; a cancelled transition records the reason but leaves donor
// state alone.
func (m *Manager) ChangeStatus(ctx context.Context, actor Actor, appointmentID int64, next model.Status, reason string) error {
	if next == model.StatusScheduled {
		return reject(CodeInvalidTransition)
	}

	appt, err := m.getAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if !appt.Status.CanTransitionTo(next) {
		return reject(CodeInvalidTransition)
	}

	if err := m.appointments.TransitionStatus(ctx, appointmentID, appt.Status, next, reason); err != nil {
		switch {
		case errors.Is(err, ErrStaleStatus):
			return reject(CodeInvalidTransition)
		case errors.Is(err, ErrNotFound):
			return reject(CodeAppointmentNotFound)
		}
		return fmt.Errorf("transition appointment %d to %s: %w", appointmentID, next, err)
	}

	if next == model.StatusNoShow {
		if err := m.penalizeNoShow(ctx, appt.DonorID); err != nil {
			return err
		}
	}

	m.logger.Info("appointment status changed",
		"appointment_id", appointmentID,
		"from", appt.Status,
		"to", next,
		"actor_role", actor.Role,
		"actor", actor.UserID,
	)

	if donor, err := m.donors.Get(ctx, appt.DonorID); err == nil {
		appt.Status = next
		m.sendStatusNotification(ctx, appt, donor.UserID, next)
	} else {
		m.logger.Warn("skipping status notification, donor lookup failed", "err", err, "donor_id", appt.DonorID)
	}
	return nil
}

// CancelFuture hard-deletes an appointment that has not started yet. Past or
// ongoing visits can only be status-transitioned, never removed.
func (m *Manager) CancelFuture(ctx context.Context, actor Actor, appointmentID int64) error {
	appt, err := m.getAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if !appt.Status.Active() {
		return reject(CodeInvalidTransition)
	}
	if !appt.ScheduledAt.After(m.now().UTC()) {
		return reject(CodeCannotCancelPast)
	}

	if err := m.appointments.Delete(ctx, appointmentID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return reject(CodeAppointmentNotFound)
		}
		return fmt.Errorf("delete appointment %d: %w", appointmentID, err)
	}

	m.logger.Info("appointment cancelled and removed",
		"appointment_id", appointmentID,
		"actor_role", actor.Role,
		"actor", actor.UserID,
	)

	if donor, err := m.donors.Get(ctx, appt.DonorID); err == nil {
		m.sendStatusNotification(ctx, appt, donor.UserID, model.StatusCancelled)
	} else {
		m.logger.Warn("skipping cancel notification, donor lookup failed", "err", err, "donor_id", appt.DonorID)
	}
	return nil
}

// AvailableSlots reports the open slots at a bank for a day.
func (m *Manager) AvailableSlots(ctx context.Context, bankID int64, day time.Time) ([]calendar.Slot, error) {
	if _, err := m.banks.Get(ctx, bankID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, reject(CodeBankNotFound)
		}
		return nil, fmt.Errorf("load bank %d: %w", bankID, err)
	}
	rules, err := m.bankRules(ctx, bankID)
	if err != nil {
		return nil, err
	}
	return m.planner.AvailableSlots(ctx, bankID, day, rules)
}

func (m *Manager) List(ctx context.Context, f Filter) ([]model.Appointment, error) {
	return m.appointments.List(ctx, f)
}

func (m *Manager) Get(ctx context.Context, appointmentID int64) (model.Appointment, error) {
	return m.getAppointment(ctx, appointmentID)
}

func (m *Manager) getAppointment(ctx context.Context, id int64) (model.Appointment, error) {
	appt, err := m.appointments.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Appointment{}, reject(CodeAppointmentNotFound)
		}
		return model.Appointment{}, fmt.Errorf("load appointment %d: %w", id, err)
	}
	return appt, nil
}

func (m *Manager) bankRules(ctx context.Context, bankID int64) (policy.Rules, error) {
	rules, err := m.policy.BankRules(ctx, bankID)
	if err != nil {
		return policy.Rules{}, fmt.Errorf("load bank rules: %w", err)
	}
	return rules, nil
}

func (m *Manager) penalizeNoShow(ctx context.Context, donorID int64) error {
	if err := m.donors.SetEligibility(ctx, donorID, false); err != nil {
		return fmt.Errorf("suspend donor %d: %w", donorID, err)
	}
	if err := m.donors.IncrementNoShow(ctx, donorID); err != nil {
		return fmt.Errorf("increment no-show count for donor %d: %w", donorID, err)
	}
	return nil
}

func (m *Manager) sendStatusNotification(ctx context.Context, appt model.Appointment, userID int64, status model.Status) {
	n := Notification{
		AppointmentID: appt.ID,
		UserID:        userID,
		Category:      "appointment",
		Message:       statusMessage(status, appt),
		Status:        status,
	}
	if err := m.notifier.Send(ctx, n); err != nil {
		m.logger.Error("notification send failed", "err", err, "appointment_id", appt.ID, "user_id", userID)
	}
}

func statusMessage(status model.Status, appt model.Appointment) string {
	when := appt.ScheduledAt.Format("Mon, 02 Jan 2006 at 15:04")
	switch status {
	case model.StatusScheduled:
		return fmt.Sprintf("Your blood donation appointment on %s has been scheduled.", when)
	case model.StatusConfirmed:
		return fmt.Sprintf("Your blood donation appointment on %s is confirmed.", when)
	case model.StatusCompleted:
		return fmt.Sprintf("Thank you for donating! Your visit on %s is complete.", when)
	case model.StatusCancelled:
		return fmt.Sprintf("Your blood donation appointment on %s was cancelled.", when)
	case model.StatusNoShow:
		return fmt.Sprintf("You missed your appointment on %s. Your donor eligibility has been suspended; please contact the blood bank.", when)
	default:
		return fmt.Sprintf("Your appointment status was updated to %s.", status)
	}
}
