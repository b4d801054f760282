package core

import "context"

// Transport is the capability contract spec.md §4.G requires from any
// byte-stream carrier: open a connection to an Address, exchange
// discrete framed messages, and tear down idempotently. NetworkPeer is
// written entirely against this interface and never assumes a
// particular wire transport, matching the spec's "address hierarchy
// maps to a common capability trait {open, send, close, is_ready}".
type Transport interface {
	// Open establishes the stream. For a Transport obtained from an
	// inbound accept, Open is a no-op that just returns nil.
	Open(ctx context.Context, addr Address) error

	// Send transmits one message. It returns without guaranteeing
	// delivery; loss surfaces as a later timeout or Closed event.
	Send(payload []byte) error

	// Close tears the stream down. Idempotent: calling it more than
	// once, or after the remote already closed, is not an error.
	Close() error

	// Ready reports whether the stream can currently carry payload.
	Ready() bool

	// SetHandlers installs the callbacks driving the owning
	// NetworkPeer's state machine. onMessage fires once per received
	// message (already length-delimited where the transport doesn't
	// natively frame); onClosed fires exactly once, from either side
	// initiating teardown.
	SetHandlers(onMessage func([]byte), onClosed func())
}
