// Package vm implements the VM (C9): the per-process host of typed,
// UUID-addressed Components. It owns a module registry of component
// factories and stateless operators, and serializes calls against any one
// component while letting calls against distinct components run
// concurrently (spec §4.7, §5: "only one in-flight method per component at
// a time... multiple components may run concurrently").
//
// Grounded on the teacher's internal/mcp.Manager: a name-keyed map of
// long-lived handles (clients/cleanups) constructed from config and torn
// down by name, generalized here from MCP server processes to arbitrary
// typed components.
package vm

import (
	"context"
	"sync"

	"ailoy/internal/aerr"
	"ailoy/internal/value"
)

// IterFrame is one frame produced by an iterative method: either a partial
// update, or the terminal frame (Final true), optionally carrying Err.
type IterFrame struct {
	Payload value.Value
	Final   bool
	Err     error
}

// Component is the behavior every typed component exposes to the VM.
type Component interface {
	// CallMethod invokes an instant method: exactly one response.
	CallMethod(ctx context.Context, method string, inputs value.Value) (value.Value, error)
	// IterMethod invokes an iterative method producing a stream of partial
	// frames then exactly one final/error frame.
	IterMethod(ctx context.Context, method string, inputs value.Value) (<-chan IterFrame, error)
	// Close releases any resources the component owns.
	Close() error
}

// Factory constructs a Component of a registered type from its attrs.
type Factory func(id string, attrs value.Value) (Component, error)

// Operator is a stateless module-level function invoked via call(name, inputs).
type Operator func(ctx context.Context, inputs value.Value) (value.Value, error)

type entry struct {
	mu        sync.Mutex
	component Component
}

// VM hosts components and dispatches calls against the module registry.
type VM struct {
	mu         sync.RWMutex
	factories  map[string]Factory
	operators  map[string]Operator
	components map[string]*entry
}

// New builds an empty VM.
func New() *VM {
	return &VM{
		factories:  make(map[string]Factory),
		operators:  make(map[string]Operator),
		components: make(map[string]*entry),
	}
}

// RegisterType adds a component factory to the module registry. Intended to
// be called once per type at startup (tvm_language_model, openai, qdrant, ...).
func (v *VM) RegisterType(typ string, f Factory) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.factories[typ] = f
}

// RegisterOperator adds a stateless operator (e.g. http_request) invoked via call().
func (v *VM) RegisterOperator(name string, op Operator) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.operators[name] = op
}

// Define constructs a component of the given type and stores it under id.
// Duplicate id is an error (spec §4.7).
func (v *VM) Define(typ, id string, attrs value.Value) error {
	v.mu.Lock()
	factory, ok := v.factories[typ]
	if !ok {
		v.mu.Unlock()
		return aerr.New(aerr.NotFound, "component type %q not registered", typ)
	}
	if _, exists := v.components[id]; exists {
		v.mu.Unlock()
		return aerr.New(aerr.AlreadyExists, "component id %q already defined", id)
	}
	v.mu.Unlock()

	c, err := factory(id, attrs)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.components[id]; exists {
		_ = c.Close()
		return aerr.New(aerr.AlreadyExists, "component id %q already defined", id)
	}
	v.components[id] = &entry{component: c}
	return nil
}

// Delete tears down and removes a component by id.
func (v *VM) Delete(id string) error {
	v.mu.Lock()
	e, ok := v.components[id]
	if !ok {
		v.mu.Unlock()
		return aerr.New(aerr.NotFound, "component id %q not found", id)
	}
	delete(v.components, id)
	v.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.component.Close()
}

// Call invokes a stateless module operator.
func (v *VM) Call(ctx context.Context, name string, inputs value.Value) (value.Value, error) {
	v.mu.RLock()
	op, ok := v.operators[name]
	v.mu.RUnlock()
	if !ok {
		return value.Value{}, aerr.New(aerr.NotFound, "operator %q not registered", name)
	}
	return op(ctx, inputs)
}

func (v *VM) lookup(id string) (*entry, error) {
	v.mu.RLock()
	e, ok := v.components[id]
	v.mu.RUnlock()
	if !ok {
		return nil, aerr.New(aerr.NotFound, "component id %q not found", id)
	}
	return e, nil
}

// CallMethod invokes an instant method on the component, serialized against
// any other in-flight call to the same component.
func (v *VM) CallMethod(ctx context.Context, id, method string, inputs value.Value) (value.Value, error) {
	e, err := v.lookup(id)
	if err != nil {
		return value.Value{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.component.CallMethod(ctx, method, inputs)
}

// IterMethod invokes an iterative method on the component. The component's
// lock is held for the duration of the stream — released only once the
// returned channel closes — so a second call against the same component
// blocks until this one finishes, matching the "not reentrant" invariant.
func (v *VM) IterMethod(ctx context.Context, id, method string, inputs value.Value) (<-chan IterFrame, error) {
	e, err := v.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()

	inner, err := e.component.IterMethod(ctx, method, inputs)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	out := make(chan IterFrame)
	go func() {
		defer close(out)
		defer e.mu.Unlock()
		for frame := range inner {
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
			if frame.Final {
				return
			}
		}
	}()
	return out, nil
}
