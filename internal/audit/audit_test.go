package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDispatcherDeliversToSink(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)
	defer d.Close()

	d.Emit(context.Background(), Event{Action: ActionLogin, Success: true})

	select {
	case ev := <-sink.Events():
		if ev.Action != ActionLogin || !ev.Success {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestDispatcherDisabledReturnsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NewChannelSink(1))
	if d != nil {
		t.Fatal("disabled dispatcher should be nil")
	}
	// nil dispatcher is safe to use
	d.Emit(context.Background(), Event{Action: ActionLogout})
	d.Close()
	if got := d.Dropped(); got != 0 {
		t.Fatalf("Dropped() = %d, want 0", got)
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	// An unread channel sink of size 1 stalls the forwarding goroutine,
	// so extra events pile up in the dispatcher buffer and overflow.
	sink := NewChannelSink(1)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), Event{Action: ActionRefresh})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected some events to be dropped")
	}

	go func() {
		for range sink.Events() {
		}
	}()
	d.Close()
}

func TestDispatcherCloseDrains(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, NewJSONWriterSink(&buf))

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{Action: ActionLogoutAll, Success: true})
	}
	d.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d lines after drain, want 5", len(lines))
	}
}

func TestDispatcherEmitAfterClose(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	d.Close()

	d.Emit(context.Background(), Event{Action: ActionLogin})

	select {
	case ev := <-sink.Events():
		t.Fatalf("event delivered after close: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJSONWriterSinkFormat(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	when := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	sink.Emit(context.Background(), Event{
		Time:    when,
		Action:  ActionLockout,
		UserID:  "u-1",
		IP:      "192.0.2.10",
		Success: false,
		Error:   "account locked",
	})

	var decoded Event
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Action != ActionLockout || decoded.UserID != "u-1" {
		t.Fatalf("unexpected decoded event: %+v", decoded)
	}
	if !decoded.Time.Equal(when) {
		t.Fatalf("time round-trip mismatch: %v", decoded.Time)
	}
}
