package outbox

// Event is the envelope written to outbox_events in the same transaction as the state change.
// The Kafka topic equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
