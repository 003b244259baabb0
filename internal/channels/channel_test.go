package channels

import (
	"context"
	"testing"
)

type fakeAdapter struct {
	typ  Type
	sent []Message
}

func (f *fakeAdapter) Type() Type { return f.typ }
func (f *fakeAdapter) Capabilities() Capabilities {
	return Capabilities{MaxMessageLength: 2000}
}
func (f *fakeAdapter) Send(ctx context.Context, msg Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

func TestRegistry_GetReturnsRegisteredAdapter(t *testing.T) {
	r := NewRegistry()
	a := &fakeAdapter{typ: "discord"}
	r.Register(a)

	got, ok := r.Get("discord")
	if !ok || got != a {
		t.Fatalf("Get(discord) = %v, %v, want %v, true", got, ok, a)
	}

	if _, ok := r.Get("slack"); ok {
		t.Error("expected no adapter registered for slack")
	}
}

func TestRegistry_SendRoutesToAdapter(t *testing.T) {
	r := NewRegistry()
	a := &fakeAdapter{typ: "discord"}
	r.Register(a)

	msg := Message{ChannelID: "chan-1", Text: "hello"}
	if err := r.Send(context.Background(), "discord", msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(a.sent) != 1 || a.sent[0].Text != "hello" {
		t.Errorf("unexpected messages delivered to adapter: %+v", a.sent)
	}
}

func TestRegistry_SendUnknownAdapterErrors(t *testing.T) {
	r := NewRegistry()
	if err := r.Send(context.Background(), "nonexistent", Message{}); err != ErrUnknownAdapter {
		t.Errorf("Send() error = %v, want ErrUnknownAdapter", err)
	}
}

func TestRegistry_AllReturnsEveryAdapter(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeAdapter{typ: "discord"})
	r.Register(&fakeAdapter{typ: "slack"})

	if got := len(r.All()); got != 2 {
		t.Errorf("All() returned %d adapters, want 2", got)
	}
}
