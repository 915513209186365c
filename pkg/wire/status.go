package wire

// Code identifies an error reported by the evaluation service.
type Code string

const (
	// CodeNotFound indicates the subscription does not exist (anymore).
	CodeNotFound Code = "not_found"

	// CodeTemplateError indicates the template failed to render.
	CodeTemplateError Code = "template_error"

	// CodeInvalidFormat indicates a malformed request payload.
	CodeInvalidFormat Code = "invalid_format"

	// CodeUnknownCommand indicates an unsupported operation.
	CodeUnknownCommand Code = "unknown_command"

	// CodeUnknownError indicates an unclassified service failure.
	CodeUnknownError Code = "unknown_error"

	// CodeConnectionLost is produced locally when the channel drops.
	// The service never sends it.
	CodeConnectionLost Code = "connection_lost"
)

// String returns the code value.
func (c Code) String() string {
	if c == "" {
		return "unknown_error"
	}
	return string(c)
}

// IsBenign returns true for codes that are expected when releasing a
// subscription the service already discarded.
func (c Code) IsBenign() bool {
	return c == CodeNotFound || c == CodeTemplateError
}

// ErrorPayload describes a failed request or a failed subscription.
//
// CBOR encoding:
//
//	{
//	  1: code,     // string
//	  2: message   // string
//	}
type ErrorPayload struct {
	Code    Code   `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint,omitempty"`
}
