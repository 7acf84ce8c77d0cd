package link

import "context"

// Identity is the fixed network identity the node joins.
type Identity struct {
	SSID     string
	Password string
}

// Radio is the platform network stack.
//
// Associate starts an attempt and returns without waiting for it to complete;
// the Manager polls Associated until the attempt window closes.
type Radio interface {
	Associate(ctx context.Context, id Identity) error
	Associated(ctx context.Context) bool
	Disassociate(ctx context.Context) error
}

// Describer is implemented by radios that can report link details once associated.
type Describer interface {
	Describe(ctx context.Context) []any
}
