package outbox

// Event is the domain event envelope written to the outbox table alongside
// the state change that produced it. The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Event types emitted by the scheduling service.
const (
	TypeAppointmentScheduled = "scheduling.appointment.scheduled.v1"
	TypeAppointmentUpdated   = "scheduling.appointment.updated.v1"
	TypeNotificationRequest  = "scheduling.notification.requested.v1"
)
