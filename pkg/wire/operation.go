package wire

// Operation represents a protocol operation.
type Operation uint8

const (
	// OpSubscribe starts evaluating a template and streaming its results.
	OpSubscribe Operation = 1

	// OpUnsubscribe releases a subscription on the service.
	OpUnsubscribe Operation = 2

	// OpPing checks that the service is alive.
	OpPing Operation = 3
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpSubscribe:
		return "Subscribe"
	case OpUnsubscribe:
		return "Unsubscribe"
	case OpPing:
		return "Ping"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the operation is a known operation.
func (o Operation) IsValid() bool {
	return o >= OpSubscribe && o <= OpPing
}
