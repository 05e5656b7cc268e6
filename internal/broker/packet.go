// Package broker implements the Broker (C8): a single transport, addressed
// by URL, connecting Runtime clients to a VM. Concurrency model: the broker
// is a single-threaded event pump that fans out to worker goroutines for
// each packet; components are not assumed reentrant (spec §4.7, §5).
//
// No teacher subsystem runs a packet-framed RPC broker (manifold talks HTTP
// to hosted APIs directly), so the packet types and dispatch loop are built
// directly against spec §4.7/§6. The length-prefixed wire framing
// (wire.go) generalizes the teacher's otel-instrumented HTTP client wrapper
// pattern (internal/observability/httpclient.go: wrap-once, log around the
// call) to a raw socket codec.
package broker

import "ailoy/internal/value"

// Type is the packet-type byte of the wire header (spec §6).
type Type uint8

const (
	TypeDefine     Type = 1
	TypeDelete     Type = 2
	TypeCall       Type = 3
	TypeCallMethod Type = 4
	TypeIterMethod Type = 5
	TypeCancel     Type = 6
	TypeOK         Type = 7
	TypeError      Type = 8
	TypePartial    Type = 9
	TypeFinal      Type = 10
)

func (t Type) String() string {
	switch t {
	case TypeDefine:
		return "define"
	case TypeDelete:
		return "delete"
	case TypeCall:
		return "call"
	case TypeCallMethod:
		return "call_method"
	case TypeIterMethod:
		return "iter_method"
	case TypeCancel:
		return "cancel"
	case TypeOK:
		return "ok"
	case TypeError:
		return "error"
	case TypePartial:
		return "partial"
	case TypeFinal:
		return "final"
	default:
		return "unknown"
	}
}

// Packet is one frame of the broker protocol: header fields plus a Value
// payload (spec §6: "header: packet-type | flags | tx-id | component-id;
// payload: length-prefixed Value").
type Packet struct {
	Type        Type
	Flags       uint8
	TxID        uint64
	ComponentID [16]byte // all-zero if absent
	Payload     value.Value
}

// HasComponentID reports whether ComponentID carries a real id rather than
// the all-zero sentinel.
func (p Packet) HasComponentID() bool {
	for _, b := range p.ComponentID {
		if b != 0 {
			return true
		}
	}
	return false
}
