package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"ailoy/internal/aerr"
	"ailoy/internal/value"
	"ailoy/internal/vm"
)

// Broker pumps packets off a Conn and dispatches them against a VM. Per
// spec §4.7/§5 it is "a single-threaded event pump that fans out to worker
// [goroutines] for each packet" — Serve's read loop never blocks on a
// packet's handling, so an iter_method's stream doesn't stall unrelated
// define/call_method traffic on the same connection.
type Broker struct {
	vm *vm.VM

	mu      sync.Mutex
	cancels map[uint64]context.CancelFunc
}

// New builds a Broker fronting v.
func New(v *vm.VM) *Broker {
	return &Broker{
		vm:      v,
		cancels: make(map[uint64]context.CancelFunc),
	}
}

// Serve reads packets from conn until it errors (typically because the peer
// closed it), dispatching each on its own goroutine. Serve returns the read
// error; callers that expect a clean shutdown should arrange for conn.Close
// to produce one.
func (b *Broker) Serve(ctx context.Context, conn Conn) error {
	for {
		p, err := conn.Recv()
		if err != nil {
			b.cancelAll()
			return err
		}
		go b.dispatch(ctx, conn, p)
	}
}

func (b *Broker) cancelAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for txID, cancel := range b.cancels {
		cancel()
		delete(b.cancels, txID)
	}
}

func (b *Broker) registerCancel(txID uint64, cancel context.CancelFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels[txID] = cancel
}

func (b *Broker) popCancel(txID uint64) (context.CancelFunc, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cancel, ok := b.cancels[txID]
	if ok {
		delete(b.cancels, txID)
	}
	return cancel, ok
}

func (b *Broker) dispatch(ctx context.Context, conn Conn, p Packet) {
	switch p.Type {
	case TypeDefine:
		b.handleDefine(ctx, conn, p)
	case TypeDelete:
		b.handleDelete(conn, p)
	case TypeCall:
		b.handleCall(ctx, conn, p)
	case TypeCallMethod:
		b.handleCallMethod(ctx, conn, p)
	case TypeIterMethod:
		b.handleIterMethod(ctx, conn, p)
	case TypeCancel:
		b.handleCancel(p)
	default:
		b.sendError(conn, p, aerr.New(aerr.Validation, "unknown packet type %d", p.Type))
	}
}

func componentIDString(p Packet) string {
	return uuid.UUID(p.ComponentID).String()
}

func (b *Broker) handleDefine(ctx context.Context, conn Conn, p Packet) {
	typ, ok := p.Payload.Get("type")
	if !ok {
		b.sendError(conn, p, aerr.New(aerr.Validation, "define: missing \"type\""))
		return
	}
	typStr, err := typ.String()
	if err != nil {
		b.sendError(conn, p, err)
		return
	}
	attrs, _ := p.Payload.Get("attrs")

	id := uuid.New()
	if idVal, ok := p.Payload.Get("id"); ok {
		if idStr, err := idVal.String(); err == nil && idStr != "" {
			if parsed, err := uuid.Parse(idStr); err == nil {
				id = parsed
			}
		}
	}

	if err := b.vm.Define(typStr, id.String(), attrs); err != nil {
		b.sendError(conn, p, err)
		return
	}

	resp := Packet{Type: TypeOK, TxID: p.TxID, Payload: value.Null()}
	copy(resp.ComponentID[:], id[:])
	b.send(conn, resp)
}

func (b *Broker) handleDelete(conn Conn, p Packet) {
	if err := b.vm.Delete(componentIDString(p)); err != nil {
		b.sendError(conn, p, err)
		return
	}
	b.send(conn, Packet{Type: TypeOK, TxID: p.TxID, ComponentID: p.ComponentID, Payload: value.Null()})
}

func (b *Broker) handleCall(ctx context.Context, conn Conn, p Packet) {
	name, ok := p.Payload.Get("name")
	if !ok {
		b.sendError(conn, p, aerr.New(aerr.Validation, "call: missing \"name\""))
		return
	}
	nameStr, err := name.String()
	if err != nil {
		b.sendError(conn, p, err)
		return
	}
	inputs, _ := p.Payload.Get("inputs")

	out, err := b.vm.Call(ctx, nameStr, inputs)
	if err != nil {
		b.sendError(conn, p, err)
		return
	}
	b.send(conn, Packet{Type: TypeOK, TxID: p.TxID, Payload: out})
}

func methodAndInputs(p Packet) (string, value.Value, error) {
	methodVal, ok := p.Payload.Get("method")
	if !ok {
		return "", value.Value{}, aerr.New(aerr.Validation, "%s: missing \"method\"", p.Type)
	}
	method, err := methodVal.String()
	if err != nil {
		return "", value.Value{}, err
	}
	inputs, _ := p.Payload.Get("inputs")
	return method, inputs, nil
}

func (b *Broker) handleCallMethod(ctx context.Context, conn Conn, p Packet) {
	method, inputs, err := methodAndInputs(p)
	if err != nil {
		b.sendError(conn, p, err)
		return
	}
	out, err := b.vm.CallMethod(ctx, componentIDString(p), method, inputs)
	if err != nil {
		b.sendError(conn, p, err)
		return
	}
	b.send(conn, Packet{Type: TypeOK, TxID: p.TxID, ComponentID: p.ComponentID, Payload: out})
}

// handleIterMethod streams partial frames back as TypePartial packets and
// terminates the stream with exactly one TypeFinal (success) or TypeError
// (failure or cancellation) packet, all sharing p.TxID so the client can
// correlate them (spec §4.7: "partial frames then final/error").
func (b *Broker) handleIterMethod(parent context.Context, conn Conn, p Packet) {
	method, inputs, err := methodAndInputs(p)
	if err != nil {
		b.sendError(conn, p, err)
		return
	}

	ctx, cancel := context.WithCancel(parent)
	b.registerCancel(p.TxID, cancel)
	defer func() {
		b.popCancel(p.TxID)
		cancel()
	}()

	frames, err := b.vm.IterMethod(ctx, componentIDString(p), method, inputs)
	if err != nil {
		b.sendError(conn, p, err)
		return
	}

	sawFinal := false
	for frame := range frames {
		if frame.Err != nil {
			b.sendError(conn, p, frame.Err)
			sawFinal = true
			break
		}
		typ := TypePartial
		if frame.Final {
			typ = TypeFinal
			sawFinal = true
		}
		b.send(conn, Packet{Type: typ, TxID: p.TxID, ComponentID: p.ComponentID, Payload: frame.Payload})
		if frame.Final {
			break
		}
	}
	if !sawFinal {
		b.sendError(conn, p, aerr.New(aerr.Cancelled, "iter_method cancelled"))
	}
}

func (b *Broker) handleCancel(p Packet) {
	if cancel, ok := b.popCancel(p.TxID); ok {
		cancel()
	}
}

func (b *Broker) send(conn Conn, p Packet) {
	_ = conn.Send(p)
}

func (b *Broker) sendError(conn Conn, req Packet, err error) {
	kind := aerr.KindOf(err)
	payload := value.Map(
		value.KV{Key: "kind", Val: value.String(string(kind))},
		value.KV{Key: "message", Val: value.String(err.Error())},
	)
	b.send(conn, Packet{Type: TypeError, TxID: req.TxID, ComponentID: req.ComponentID, Payload: payload})
}
