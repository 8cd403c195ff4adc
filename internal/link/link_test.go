package link

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"agrolink/internal/mavlink"
)

// captureTransport records everything written and feeds a scripted byte
// stream to the reader.
type captureTransport struct {
	mu      sync.Mutex
	written bytes.Buffer

	feed chan []byte
	rest []byte
	once sync.Once
	done chan struct{}
}

func newCaptureTransport() *captureTransport {
	return &captureTransport{feed: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *captureTransport) Read(p []byte) (int, error) {
	if len(c.rest) == 0 {
		select {
		case buf := <-c.feed:
			c.rest = buf
		case <-c.done:
			return 0, io.EOF
		}
	}
	n := copy(p, c.rest)
	c.rest = c.rest[n:]
	return n, nil
}

func (c *captureTransport) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written.Write(p)
	return len(p), nil
}

func (c *captureTransport) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *captureTransport) frames(t *testing.T) []*mavlink.Frame {
	t.Helper()
	c.mu.Lock()
	raw := append([]byte(nil), c.written.Bytes()...)
	c.mu.Unlock()
	dec := mavlink.NewDecoder(bytes.NewReader(raw))
	var out []*mavlink.Frame
	for {
		f, err := dec.Next()
		if err != nil {
			return out
		}
		out = append(out, f)
	}
}

func (c *captureTransport) inject(t *testing.T, msg mavlink.Message) {
	t.Helper()
	f := &mavlink.Frame{Version: 2, SysID: 1, CompID: 1, MsgID: msg.ID(), Payload: msg.Marshal()}
	raw, err := f.Encode()
	if err != nil {
		t.Fatal(err)
	}
	c.feed <- raw
}

func vehicleHeartbeat() *mavlink.Heartbeat {
	return &mavlink.Heartbeat{
		Type:      mavlink.TypeQuadrotor,
		Autopilot: mavlink.AutopilotArdupilot,
		BaseMode:  mavlink.ModeFlagCustomModeEnabled,
	}
}

func awaitEvent(t *testing.T, events <-chan Event, kind EventKind, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed while waiting for kind %d", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no event of kind %d within %v", kind, timeout)
		}
	}
}

func TestSequenceCounterIncreases(t *testing.T) {
	tr := newCaptureTransport()
	l := New(1, Options{HeartbeatInterval: time.Hour})
	if err := l.Open(tr); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 300; i++ {
		if err := l.Send(&mavlink.MissionCurrent{Seq: uint16(i)}); err != nil {
			t.Fatal(err)
		}
	}
	l.Close()

	frames := tr.frames(t)
	if len(frames) != 300 {
		t.Fatalf("captured %d frames, want 300", len(frames))
	}
	for i, f := range frames {
		if f.Seq != byte(i%256) {
			t.Fatalf("frame %d has seq %d, want %d (mod 256)", i, f.Seq, i%256)
		}
		if f.SysID != DefaultSystemID || f.CompID != DefaultComponentID {
			t.Fatalf("frame %d source %d/%d, want %d/%d", i, f.SysID, f.CompID,
				DefaultSystemID, DefaultComponentID)
		}
	}
}

func TestConnectedWithinTimeoutWindow(t *testing.T) {
	tr := newCaptureTransport()
	l := New(1, Options{HeartbeatInterval: 20 * time.Millisecond, HeartbeatTimeout: 150 * time.Millisecond})
	if err := l.Open(tr); err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	events := l.Events()

	tr.inject(t, vehicleHeartbeat())
	awaitEvent(t, events, EventConnected, time.Second)

	// Heartbeats with gaps inside the window keep the link connected.
	for i := 0; i < 3; i++ {
		time.Sleep(60 * time.Millisecond)
		tr.inject(t, vehicleHeartbeat())
		if !l.Connected() {
			t.Fatal("link dropped despite heartbeats inside the window")
		}
	}

	// Silence past the window disconnects.
	awaitEvent(t, events, EventDisconnected, 2*time.Second)
	if l.Connected() {
		t.Error("Connected() true after heartbeat loss")
	}
}

func TestPeerIdentityRefinedOnFirstHeartbeat(t *testing.T) {
	tr := newCaptureTransport()
	l := New(1, Options{HeartbeatInterval: time.Hour})
	if err := l.Open(tr); err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if sys, comp := l.Target(); sys != 1 || comp != 1 {
		t.Fatalf("default target %d/%d, want 1/1", sys, comp)
	}

	hb := vehicleHeartbeat()
	f := &mavlink.Frame{Version: 2, SysID: 42, CompID: 7, MsgID: hb.ID(), Payload: hb.Marshal()}
	raw, err := f.Encode()
	if err != nil {
		t.Fatal(err)
	}
	tr.feed <- raw
	awaitEvent(t, l.Events(), EventConnected, time.Second)

	if sys, comp := l.Target(); sys != 42 || comp != 7 {
		t.Errorf("target %d/%d after heartbeat, want 42/7", sys, comp)
	}
}

func TestTransportErrorEmitsDisconnected(t *testing.T) {
	tr := newCaptureTransport()
	l := New(3, Options{HeartbeatInterval: time.Hour})
	if err := l.Open(tr); err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	events := l.Events()

	tr.inject(t, vehicleHeartbeat())
	awaitEvent(t, events, EventConnected, time.Second)

	// Simulated I/O failure: the transport dies underneath the read loop.
	_ = tr.Close()
	awaitEvent(t, events, EventDisconnected, time.Second)
}

// stallTransport blocks every write until released, while reads stay live.
type stallTransport struct {
	*captureTransport
	release chan struct{}
}

func (s *stallTransport) Write(p []byte) (int, error) {
	select {
	case <-s.release:
		return s.captureTransport.Write(p)
	case <-s.done:
		return 0, io.ErrClosedPipe
	}
}

func TestSendDoesNotBlockInboundDispatch(t *testing.T) {
	tr := &stallTransport{captureTransport: newCaptureTransport(), release: make(chan struct{})}
	l := New(1, Options{HeartbeatInterval: time.Hour})
	if err := l.Open(tr); err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	sent := make(chan error, 1)
	go func() { sent <- l.Send(&mavlink.MissionCurrent{Seq: 1}) }()

	// With a writer parked inside the transport, inbound frames must still
	// decode and reach consumers.
	tr.inject(t, vehicleHeartbeat())
	awaitEvent(t, l.Events(), EventConnected, 2*time.Second)

	select {
	case err := <-sent:
		t.Fatalf("send returned %v before the transport accepted the write", err)
	default:
	}

	close(tr.release)
	select {
	case err := <-sent:
		if err != nil {
			t.Fatalf("send: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send still blocked after the transport was released")
	}
}

func TestExpectBuffersReplyBeforeWait(t *testing.T) {
	tr := newCaptureTransport()
	l := New(1, Options{HeartbeatInterval: time.Hour})
	if err := l.Open(tr); err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	pending := l.Expect(func(m mavlink.Message) bool {
		a, ok := m.(*mavlink.CommandAck)
		return ok && a.Command == mavlink.CmdComponentArmDisarm
	})
	defer pending.Cancel()

	// The reply lands before anyone calls Wait; the registration must hold it.
	tr.inject(t, &mavlink.CommandAck{Command: mavlink.CmdComponentArmDisarm, Result: mavlink.ResultAccepted})
	awaitEvent(t, l.Events(), EventMessage, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := pending.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if a, ok := msg.(*mavlink.CommandAck); !ok || a.Result != mavlink.ResultAccepted {
		t.Fatalf("wait returned %#v", msg)
	}
}

func TestSimulatorEndToEnd(t *testing.T) {
	sim := NewSimTransport(1)
	l := New(1, Options{HeartbeatInterval: 100 * time.Millisecond})
	if err := l.Open(sim); err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	events := l.Events()

	awaitEvent(t, events, EventConnected, 3*time.Second)

	var pos *mavlink.GlobalPositionInt
	deadline := time.After(3 * time.Second)
	for pos == nil {
		select {
		case ev := <-events:
			if m, ok := ev.Msg.(*mavlink.GlobalPositionInt); ok {
				pos = m
			}
		case <-deadline:
			t.Fatal("no position frame from simulator")
		}
	}
	lat := float64(pos.Lat) / 1e7
	if lat < 12.97 || lat > 12.98 {
		t.Errorf("simulated latitude %v outside expected band", lat)
	}
}
