// Package handlers exposes the scheduling operations over JSON HTTP.
// Authentication is a bearer JWT minted by the identity service; ownership
// checks happen here, before anything reaches the booking manager.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tareq-aziz/lifeline/libs/auth"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/booking"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/calendar"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/model"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/storage"
)

const (
	RoleDonor = "donor"
	RoleBank  = "bank"
	RoleAdmin = "admin"
)

// BookingService is the slice of the booking manager the HTTP layer uses.
type BookingService interface {
	Create(ctx context.Context, actor booking.Actor, req booking.CreateRequest) (model.Appointment, error)
	Reschedule(ctx context.Context, actor booking.Actor, appointmentID int64, newAt time.Time) error
	ChangeStatus(ctx context.Context, actor booking.Actor, appointmentID int64, next model.Status, reason string) error
	CancelFuture(ctx context.Context, actor booking.Actor, appointmentID int64) error
	AvailableSlots(ctx context.Context, bankID int64, day time.Time) ([]calendar.Slot, error)
	List(ctx context.Context, f booking.Filter) ([]model.Appointment, error)
	Get(ctx context.Context, appointmentID int64) (model.Appointment, error)
}

// Idempotency stores replayable responses for create requests carrying an
// Idempotency-Key header. A nil store disables the feature.
type Idempotency interface {
	Reserve(ctx context.Context, subject, key string) (rec storage.IdempotencyRecord, existing bool, err error)
	Finalize(ctx context.Context, subject, key string, appointmentID int64, statusCode int, body []byte) error
}

type AppointmentHandler struct {
	svc       BookingService
	idem      Idempotency
	logger    *slog.Logger
	jwtSecret string
}

func NewAppointmentHandler(svc BookingService, idem Idempotency, logger *slog.Logger, jwtSecret string) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, idem: idem, logger: logger, jwtSecret: jwtSecret}
}

func (h *AppointmentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/public/slots", h.Slots)
	mux.HandleFunc("/api/v1/appointments", h.appointments)
	mux.HandleFunc("/api/v1/appointments/reschedule", h.Reschedule)
	mux.HandleFunc("/api/v1/appointments/status", h.Status)
	mux.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
}

func (h *AppointmentHandler) appointments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.Create(w, r)
	case http.MethodGet:
		h.List(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type slotItem struct {
	TimeOfDay string `json:"time_of_day"`
	StartTime string `json:"start_time"`
}

type slotsResponse struct {
	BankID int64      `json:"bank_id"`
	Date   string     `json:"date"`
	Slots  []slotItem `json:"slots"`
}

// Slots is the only unauthenticated endpoint: prospective donors browse open
// slots before they have an account.
func (h *AppointmentHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bankID, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("bank_id")), 10, 64)
	if err != nil || bankID <= 0 {
		http.Error(w, "bank_id required", http.StatusBadRequest)
		return
	}
	rawDate := strings.TrimSpace(r.URL.Query().Get("date"))
	day, err := time.Parse("2006-01-02", rawDate)
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	slots, err := h.svc.AvailableSlots(r.Context(), bankID, day)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := slotsResponse{BankID: bankID, Date: rawDate, Slots: make([]slotItem, 0, len(slots))}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, slotItem{
			TimeOfDay: s.TimeOfDay,
			StartTime: s.At.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type createAppointmentRequest struct {
	DonorID         int64  `json:"donor_id"`
	BankID          int64  `json:"bank_id"`
	ScheduledAt     string `json:"scheduled_at"`
	Kind            string `json:"kind"`
	DurationMinutes int    `json:"duration_minutes"`
	Notes           string `json:"notes"`
}

type appointmentItem struct {
	AppointmentID   int64  `json:"appointment_id"`
	DonorID         int64  `json:"donor_id"`
	BankID          int64  `json:"bank_id"`
	ScheduledAt     string `json:"scheduled_at"`
	Kind            string `json:"kind"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	Notes           string `json:"notes,omitempty"`
	CancelReason    string `json:"cancel_reason,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.DonorID == 0 && claims.Role == RoleDonor {
		req.DonorID = claims.DonorID
	}
	if req.DonorID <= 0 || req.BankID <= 0 {
		http.Error(w, "donor_id and bank_id required", http.StatusBadRequest)
		return
	}

	switch claims.Role {
	case RoleDonor:
		if req.DonorID != claims.DonorID {
			http.Error(w, "donors may only book for themselves", http.StatusForbidden)
			return
		}
	case RoleBank:
		if req.BankID != claims.BankID {
			http.Error(w, "staff may only book at their own bank", http.StatusForbidden)
			return
		}
	case RoleAdmin:
	default:
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	at, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduledAt))
	if err != nil {
		http.Error(w, "scheduled_at must be RFC 3339", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if h.idem != nil && idemKey != "" {
		rec, existing, err := h.idem.Reserve(ctx, claims.Sub, idemKey)
		if err != nil {
			http.Error(w, "failed to reserve idempotency key", http.StatusInternalServerError)
			return
		}
		if existing {
			if rec.StatusCode == 0 {
				http.Error(w, "request with this key is still in progress", http.StatusConflict)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponseBody)
			return
		}
	}

	appt, err := h.svc.Create(ctx, actorFrom(claims), booking.CreateRequest{
		DonorID:         req.DonorID,
		BankID:          req.BankID,
		At:              at,
		Kind:            strings.TrimSpace(req.Kind),
		DurationMinutes: req.DurationMinutes,
		Notes:           strings.TrimSpace(req.Notes),
	})
	if err != nil {
		if rej, isRej := booking.AsRejection(err); isRej {
			status, body := rejectionResponse(rej)
			h.finalizeIdempotency(ctx, claims.Sub, idemKey, 0, status, body)
			writeRaw(w, status, body)
			return
		}
		h.writeError(w, r, err)
		return
	}

	body, err := json.Marshal(toItem(appt))
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	h.finalizeIdempotency(ctx, claims.Sub, idemKey, appt.ID, http.StatusCreated, body)
	writeRaw(w, http.StatusCreated, body)
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	f := booking.Filter{}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, valid := model.ParseStatus(raw)
		if !valid {
			http.Error(w, "unknown status", http.StatusBadRequest)
			return
		}
		f.Status = status
	}
	if raw := strings.TrimSpace(q.Get("date")); raw != "" {
		day, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		f.Day = day
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			f.Limit = n
		}
	}

	// Callers see their own slice of the schedule.
	switch claims.Role {
	case RoleDonor:
		f.DonorID = claims.DonorID
	case RoleBank:
		f.BankID = claims.BankID
	case RoleAdmin:
		if raw := strings.TrimSpace(q.Get("donor_id")); raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
				f.DonorID = id
			}
		}
		if raw := strings.TrimSpace(q.Get("bank_id")); raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
				f.BankID = id
			}
		}
	default:
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	appts, err := h.svc.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toItem(appt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

type rescheduleRequest struct {
	AppointmentID int64  `json:"appointment_id"`
	NewTime       string `json:"new_time"`
}

func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	newAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.NewTime))
	if err != nil {
		http.Error(w, "new_time must be RFC 3339", http.StatusBadRequest)
		return
	}

	if !h.authorizeAppointment(w, r, claims, req.AppointmentID) {
		return
	}
	if err := h.svc.Reschedule(r.Context(), actorFrom(claims), req.AppointmentID, newAt); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointment_id": req.AppointmentID, "new_time": newAt.UTC().Format(time.RFC3339)})
}

type statusRequest struct {
	AppointmentID int64  `json:"appointment_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
}

// Status applies a lifecycle transition. Donors cannot mark their own visits;
// only bank staff and admins run the desk.
func (h *AppointmentHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if claims.Role != RoleBank && claims.Role != RoleAdmin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	next, valid := model.ParseStatus(strings.TrimSpace(req.Status))
	if !valid {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}

	if !h.authorizeAppointment(w, r, claims, req.AppointmentID) {
		return
	}
	if err := h.svc.ChangeStatus(r.Context(), actorFrom(claims), req.AppointmentID, next, strings.TrimSpace(req.Reason)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointment_id": req.AppointmentID, "status": string(next)})
}

type cancelRequest struct {
	AppointmentID int64 `json:"appointment_id"`
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	if !h.authorizeAppointment(w, r, claims, req.AppointmentID) {
		return
	}
	if err := h.svc.CancelFuture(r.Context(), actorFrom(claims), req.AppointmentID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointment_id": req.AppointmentID, "cancelled": true})
}

func (h *AppointmentHandler) authenticate(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
		return nil, false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	claims, err := auth.ParseAndVerifyHS256(token, h.jwtSecret)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return nil, false
	}
	return claims, true
}

// authorizeAppointment loads the record and checks the caller may touch it:
// donors their own appointments, bank staff their own bank, admins anything.
func (h *AppointmentHandler) authorizeAppointment(w http.ResponseWriter, r *http.Request, claims *auth.Claims, appointmentID int64) bool {
	if appointmentID <= 0 {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return false
	}
	appt, err := h.svc.Get(r.Context(), appointmentID)
	if err != nil {
		h.writeError(w, r, err)
		return false
	}
	switch claims.Role {
	case RoleDonor:
		if appt.DonorID != claims.DonorID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return false
		}
	case RoleBank:
		if appt.BankID != claims.BankID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return false
		}
	case RoleAdmin:
	default:
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func (h *AppointmentHandler) finalizeIdempotency(ctx context.Context, subject, key string, appointmentID int64, status int, body []byte) {
	if h.idem == nil || key == "" {
		return
	}
	if err := h.idem.Finalize(ctx, subject, key, appointmentID, status, body); err != nil {
		h.logger.Warn("idempotency finalize failed", "err", err, "key", key)
	}
}

func (h *AppointmentHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if rej, ok := booking.AsRejection(err); ok {
		status, body := rejectionResponse(rej)
		writeRaw(w, status, body)
		return
	}
	h.logger.Error("request failed", "err", err, "path", r.URL.Path)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

type errorBody struct {
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// rejectionResponse maps business rejections onto HTTP statuses: missing
// records are 404, contested resources 409, and rule violations 422.
func rejectionResponse(rej *booking.RejectionError) (int, []byte) {
	status := http.StatusUnprocessableEntity
	switch rej.Code {
	case booking.CodeDonorNotFound, booking.CodeBankNotFound, booking.CodeAppointmentNotFound:
		status = http.StatusNotFound
	case booking.CodeSlotTaken, booking.CodeInvalidTransition:
		status = http.StatusConflict
	}
	body, _ := json.Marshal(map[string]errorBody{"error": {Code: string(rej.Code), Reason: string(rej.Reason)}})
	return status, body
}

func actorFrom(claims *auth.Claims) booking.Actor {
	return booking.Actor{UserID: claims.Sub, Role: claims.Role}
}

func toItem(appt model.Appointment) appointmentItem {
	return appointmentItem{
		AppointmentID:   appt.ID,
		DonorID:         appt.DonorID,
		BankID:          appt.BankID,
		ScheduledAt:     appt.ScheduledAt.UTC().Format(time.RFC3339),
		Kind:            appt.Kind,
		DurationMinutes: appt.DurationMinutes,
		Status:          string(appt.Status),
		Notes:           appt.Notes,
		CancelReason:    appt.CancelReason,
		CreatedAt:       appt.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
