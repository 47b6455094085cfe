package bus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan []byte) string {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return string(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return ""
}

func TestSessionTopic(t *testing.T) {
	if got := SessionTopic("abc"); got != "session.abc" {
		t.Errorf("SessionTopic = %q", got)
	}
	if got := sanitizeTopic("session/../x y"); got != "session_.._x_y" {
		t.Errorf("sanitizeTopic = %q", got)
	}
}

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := NewMemoryBus(4)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := b.Subscribe(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}
	other, _ := b.Subscribe(ctx, "other")

	if err := b.Publish("t", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if got := receive(t, a); got != "hello" {
		t.Errorf("got %q", got)
	}
	select {
	case msg := <-other:
		t.Errorf("other topic received %q", msg)
	default:
	}
}

func TestMemoryBusDropsForSlowSubscriber(t *testing.T) {
	b := NewMemoryBus(2)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), "t")
	for i := 0; i < 5; i++ {
		if err := b.Publish("t", []byte(fmt.Sprint(i))); err != nil {
			t.Fatal(err)
		}
	}
	if b.DroppedCount() != 3 {
		t.Errorf("DroppedCount = %d, want 3", b.DroppedCount())
	}
	if receive(t, ch) != "0" || receive(t, ch) != "1" {
		t.Error("buffered messages should be delivered in order")
	}
}

func TestMemoryBusUnsubscribeOnCancel(t *testing.T) {
	b := NewMemoryBus(1)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "t")
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
	if err := b.Publish("t", []byte("x")); err != nil {
		t.Errorf("publish after unsubscribe: %v", err)
	}
}

func TestMemoryBusClose(t *testing.T) {
	b := NewMemoryBus(1)
	ch, _ := b.Subscribe(context.Background(), "t")
	b.Close()
	b.Close()

	if _, ok := <-ch; ok {
		t.Error("expected channel closed")
	}
	if err := b.Publish("t", nil); err != ErrClosed {
		t.Errorf("Publish after close = %v, want ErrClosed", err)
	}
	if _, err := b.Subscribe(context.Background(), "t"); err != ErrClosed {
		t.Errorf("Subscribe after close = %v, want ErrClosed", err)
	}
}

func TestDirBusAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	// Two buses on the same directory stand in for two processes.
	publisher, err := NewDirBus(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer publisher.Close()
	subscriber, err := NewDirBus(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer subscriber.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := subscriber.Subscribe(ctx, SessionTopic("s1"))
	if err != nil {
		t.Fatal(err)
	}

	if err := publisher.Publish(SessionTopic("s1"), []byte(`{"type":"task.ready"}`)); err != nil {
		t.Fatal(err)
	}
	if got := receive(t, ch); got != `{"type":"task.ready"}` {
		t.Errorf("got %q", got)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "session.s1"))
	for _, e := range entries {
		if e.Name()[0] == '.' {
			t.Errorf("temporary file left behind: %s", e.Name())
		}
	}
}

func TestDirBusPrune(t *testing.T) {
	dir := t.TempDir()
	b, _ := NewDirBus(dir, time.Hour)
	defer b.Close()

	b.Publish("t", []byte("old"))
	b.Publish("t", []byte("old2"))

	n, err := b.Prune(filepath.Join(dir, "t"), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("pruned %d files, want 2", n)
	}
}

func TestDirBusCloseEndsSubscriptions(t *testing.T) {
	b, _ := NewDirBus(t.TempDir(), 0)
	ch, err := b.Subscribe(context.Background(), "t")
	if err != nil {
		t.Fatal(err)
	}
	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after Close")
	}
}
