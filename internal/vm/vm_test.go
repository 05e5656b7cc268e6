package vm

import (
	"context"
	"testing"
	"time"

	"ailoy/internal/aerr"
	"ailoy/internal/value"
)

type echoComponent struct {
	closed bool
}

func (c *echoComponent) CallMethod(_ context.Context, method string, inputs value.Value) (value.Value, error) {
	out := value.NewMap()
	out.Set("method", value.String(method))
	out.Set("echo", inputs)
	return out, nil
}

func (c *echoComponent) IterMethod(_ context.Context, _ string, _ value.Value) (<-chan IterFrame, error) {
	out := make(chan IterFrame, 2)
	out <- IterFrame{Payload: value.Int(1)}
	out <- IterFrame{Payload: value.Int(2), Final: true}
	close(out)
	return out, nil
}

func (c *echoComponent) Close() error { c.closed = true; return nil }

func newEchoVM() (*VM, *echoComponent) {
	v := New()
	c := &echoComponent{}
	v.RegisterType("echo", func(string, value.Value) (Component, error) { return c, nil })
	return v, c
}

func TestDefine_DuplicateIDIsError(t *testing.T) {
	v, _ := newEchoVM()
	if err := v.Define("echo", "c1", value.Null()); err != nil {
		t.Fatalf("first define: %v", err)
	}
	err := v.Define("echo", "c1", value.Null())
	if aerr.KindOf(err) != aerr.AlreadyExists {
		t.Fatalf("want already_exists, got %v", err)
	}
}

func TestDefine_UnknownTypeIsNotFound(t *testing.T) {
	v, _ := newEchoVM()
	err := v.Define("bogus", "c1", value.Null())
	if aerr.KindOf(err) != aerr.NotFound {
		t.Fatalf("want not_found, got %v", err)
	}
}

func TestCallMethod_RoutesToComponent(t *testing.T) {
	v, _ := newEchoVM()
	_ = v.Define("echo", "c1", value.Null())

	out, err := v.CallMethod(context.Background(), "c1", "ping", value.String("hi"))
	if err != nil {
		t.Fatalf("call_method error: %v", err)
	}
	method, _ := out.Get("method")
	s, _ := method.String()
	if s != "ping" {
		t.Fatalf("want method=ping, got %q", s)
	}
}

func TestCallMethod_UnknownComponentIsNotFound(t *testing.T) {
	v, _ := newEchoVM()
	_, err := v.CallMethod(context.Background(), "missing", "ping", value.Null())
	if aerr.KindOf(err) != aerr.NotFound {
		t.Fatalf("want not_found, got %v", err)
	}
}

func TestIterMethod_StreamsToFinal(t *testing.T) {
	v, _ := newEchoVM()
	_ = v.Define("echo", "c1", value.Null())

	frames, err := v.IterMethod(context.Background(), "c1", "infer", value.Null())
	if err != nil {
		t.Fatalf("iter_method error: %v", err)
	}
	var got []IterFrame
	for f := range frames {
		got = append(got, f)
	}
	if len(got) != 2 || !got[1].Final {
		t.Fatalf("want 2 frames ending in final, got %#v", got)
	}
}

func TestIterMethod_SerializesAgainstSameComponent(t *testing.T) {
	v := New()
	started := make(chan struct{})
	release := make(chan struct{})
	v.RegisterType("slow", func(string, value.Value) (Component, error) {
		return &blockingComponent{started: started, release: release}, nil
	})
	_ = v.Define("slow", "c1", value.Null())

	frames1, err := v.IterMethod(context.Background(), "c1", "infer", value.Null())
	if err != nil {
		t.Fatalf("first iter_method: %v", err)
	}
	<-started

	done2 := make(chan struct{})
	go func() {
		frames2, err := v.IterMethod(context.Background(), "c1", "infer", value.Null())
		if err != nil {
			t.Errorf("second iter_method: %v", err)
		}
		for range frames2 {
		}
		close(done2)
	}()

	select {
	case <-done2:
		t.Fatal("second iter_method completed before first released its lock")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	for range frames1 {
	}
	<-done2
}

type blockingComponent struct {
	started chan struct{}
	release chan struct{}
}

func (c *blockingComponent) CallMethod(context.Context, string, value.Value) (value.Value, error) {
	return value.Null(), nil
}

func (c *blockingComponent) IterMethod(ctx context.Context, _ string, _ value.Value) (<-chan IterFrame, error) {
	out := make(chan IterFrame)
	go func() {
		defer close(out)
		select {
		case <-c.started:
		default:
			close(c.started)
		}
		<-c.release
		out <- IterFrame{Final: true}
	}()
	return out, nil
}

func (c *blockingComponent) Close() error { return nil }

func TestDelete_RemovesAndClosesComponent(t *testing.T) {
	v, c := newEchoVM()
	_ = v.Define("echo", "c1", value.Null())
	if err := v.Delete("c1"); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if !c.closed {
		t.Fatal("want component closed on delete")
	}
	if _, err := v.CallMethod(context.Background(), "c1", "ping", value.Null()); aerr.KindOf(err) != aerr.NotFound {
		t.Fatalf("want not_found after delete, got %v", err)
	}
}

func TestCall_InvokesStatelessOperator(t *testing.T) {
	v := New()
	v.RegisterOperator("double", func(_ context.Context, in value.Value) (value.Value, error) {
		n, _ := in.Int()
		return value.Int(n * 2), nil
	})
	out, err := v.Call(context.Background(), "double", value.Int(21))
	if err != nil {
		t.Fatalf("call error: %v", err)
	}
	n, _ := out.Int()
	if n != 42 {
		t.Fatalf("want 42, got %d", n)
	}
}
