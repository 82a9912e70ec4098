package hub

import (
	"encoding/json"
	"testing"
)

type testWriter struct {
	writes   int
	fail     bool
	lastBody []byte
}

func (w *testWriter) Write(message []byte) error {
	w.writes++
	w.lastBody = message
	if w.fail {
		return errTest
	}
	return nil
}

func (w *testWriter) Close() error { return nil }

var errTest = &testErr{}

type testErr struct{}

func (*testErr) Error() string { return "test" }

func TestHub_RegisterBroadcastUnregister(t *testing.T) {
	h := New()
	w1 := &testWriter{}
	c1 := &Connection{Writer: w1}

	h.Register(c1)
	h.Broadcast(EventTunnelState, map[string]bool{"tunnelActive": true})
	if w1.writes != 1 {
		t.Fatalf("expected 1 write, got %d", w1.writes)
	}

	var env map[string]any
	if err := json.Unmarshal(w1.lastBody, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env["event"] != EventTunnelState {
		t.Fatalf("expected event %q, got %v", EventTunnelState, env["event"])
	}

	h.Unregister(c1)
	h.Broadcast(EventTunnelState, nil)
	if w1.writes != 1 {
		t.Fatalf("expected no more writes, got %d", w1.writes)
	}
}

func TestHub_RemovesFailedConnections(t *testing.T) {
	h := New()
	w1 := &testWriter{fail: true}
	c1 := &Connection{Writer: w1}
	h.Register(c1)

	h.Broadcast(EventActivity, nil)
	h.Broadcast(EventActivity, nil)
	if w1.writes != 1 {
		t.Fatalf("expected only 1 write before removal, got %d", w1.writes)
	}
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	h := New()
	w1 := &testWriter{}
	w2 := &testWriter{}
	h.Register(&Connection{Writer: w1})
	h.Register(&Connection{Writer: w2})

	h.Broadcast(EventReconfigured, nil)
	if w1.writes != 1 || w2.writes != 1 {
		t.Fatalf("expected both clients written, got %d/%d", w1.writes, w2.writes)
	}
}
