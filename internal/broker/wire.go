package broker

import (
	"encoding/binary"
	"io"

	"ailoy/internal/aerr"
	"ailoy/internal/value"
)

// maxPayloadBytes bounds a single packet's payload to guard a malformed or
// hostile peer from driving an unbounded allocation.
const maxPayloadBytes = 64 << 20 // 64 MiB

// WritePacket encodes p onto w: packet-type u8, flags u8, tx-id u64 (big
// endian), component-id 16B, payload length u32 (big endian) followed by
// the payload's canonical JSON encoding (spec §6).
func WritePacket(w io.Writer, p Packet) error {
	payload, err := p.Payload.MarshalJSON()
	if err != nil {
		return aerr.Wrap(aerr.Validation, err, "encode packet payload")
	}

	header := make([]byte, 2+8+16+4)
	header[0] = byte(p.Type)
	header[1] = p.Flags
	binary.BigEndian.PutUint64(header[2:10], p.TxID)
	copy(header[10:26], p.ComponentID[:])
	binary.BigEndian.PutUint32(header[26:30], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return aerr.Wrap(aerr.Transport, err, "write packet header")
	}
	if _, err := w.Write(payload); err != nil {
		return aerr.Wrap(aerr.Transport, err, "write packet payload")
	}
	return nil
}

// ReadPacket decodes one Packet from r, per WritePacket's framing.
func ReadPacket(r io.Reader) (Packet, error) {
	header := make([]byte, 2+8+16+4)
	if _, err := io.ReadFull(r, header); err != nil {
		return Packet{}, aerr.Wrap(aerr.Transport, err, "read packet header")
	}

	p := Packet{
		Type:  Type(header[0]),
		Flags: header[1],
		TxID:  binary.BigEndian.Uint64(header[2:10]),
	}
	copy(p.ComponentID[:], header[10:26])

	length := binary.BigEndian.Uint32(header[26:30])
	if length > maxPayloadBytes {
		return Packet{}, aerr.New(aerr.Validation, "packet payload too large: %d bytes", length)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Packet{}, aerr.Wrap(aerr.Transport, err, "read packet payload")
		}
		v, err := value.ParseJSON(payload)
		if err != nil {
			return Packet{}, aerr.Wrap(aerr.Validation, err, "decode packet payload")
		}
		p.Payload = v
	} else {
		p.Payload = value.Null()
	}
	return p, nil
}
