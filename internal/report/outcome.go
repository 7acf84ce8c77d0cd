package report

import "strconv"

type Kind int

const (
	Delivered Kind = iota
	Rejected
	LinkUnavailable
	TransportError
	EncodingSkipped
)

func (k Kind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	case LinkUnavailable:
		return "link_unavailable"
	case TransportError:
		return "transport_error"
	case EncodingSkipped:
		return "encoding_skipped"
	default:
		return "unknown"
	}
}

// Outcome is the result of one Report call.
type Outcome struct {
	Kind Kind
	// Code is the HTTP status for Delivered and Rejected.
	Code int
	// Body is kept for diagnostics only.
	Body string
	// Err is the transport or encoding failure, if any.
	Err error
	// Missing names the invalid channels for EncodingSkipped.
	Missing []string
}

func (o Outcome) Delivered() bool {
	return o.Kind == Delivered
}

func (o Outcome) String() string {
	switch o.Kind {
	case Delivered, Rejected:
		return o.Kind.String() + "(" + strconv.Itoa(o.Code) + ")"
	default:
		return o.Kind.String()
	}
}

func classify(status int) Kind {
	if status >= 200 && status < 300 {
		return Delivered
	}
	return Rejected
}
