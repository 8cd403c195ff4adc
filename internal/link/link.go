// Package link owns the bidirectional framed-packet session with one vehicle.
// A Link frames and deframes MAVLink packets over an abstract transport
// (physical serial port or the in-process simulator), keeps the outgoing
// sequence counter, sends ground-station heartbeats and surfaces decoded
// messages to consumers.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"agrolink/internal/mavlink"
	"agrolink/internal/util"
)

var (
	// ErrNotOpen reports a send on a link whose transport is not open.
	ErrNotOpen = errors.New("link: not open")
	// ErrClosed reports an await cut short by link shutdown.
	ErrClosed = errors.New("link: closed")
)

// Our-side source identity defaults for a ground station.
const (
	DefaultSystemID    = 255
	DefaultComponentID = 190
)

// EventKind tags entries of the link event stream.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventMessage
	EventError
)

// Event is one entry of the link's outbound event stream.
type Event struct {
	Kind      EventKind
	VehicleID int
	Msg       mavlink.Message
	Err       error
}

// Options tunes one link session.
type Options struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

func (o *Options) fill() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 3 * time.Second
	}
}

type matcher struct {
	pred func(mavlink.Message) bool
	ch   chan mavlink.Message
}

// Link is one serial session to one vehicle.
type Link struct {
	VehicleID int

	opts Options

	// wmu serializes writers. It is held across the blocking transport write;
	// the read path never takes it, so a stalled write cannot wedge inbound
	// dispatch. l.mu guards state only and is never held while blocking.
	wmu sync.Mutex

	mu        sync.Mutex
	transport io.ReadWriteCloser
	open      bool
	seq       byte
	targetSys byte
	targetCmp byte
	lastHB    time.Time
	wasUp     bool
	streamsOn bool

	matchMu  sync.Mutex
	matchers []*matcher

	events chan Event
	drops  uint64

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a closed link for a vehicle. Open attaches a transport.
func New(vehicleID int, opts Options) *Link {
	opts.fill()
	return &Link{
		VehicleID: vehicleID,
		opts:      opts,
		targetSys: 1,
		targetCmp: 1,
	}
}

// Open attaches the transport and starts the read and heartbeat loops.
func (l *Link) Open(transport io.ReadWriteCloser) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open {
		return fmt.Errorf("link %d: already open", l.VehicleID)
	}
	l.transport = transport
	l.open = true
	l.seq = 0
	l.wasUp = false
	l.streamsOn = false
	l.lastHB = time.Time{}
	l.events = make(chan Event, 256)
	l.stop = make(chan struct{})
	l.wg.Add(2)
	go l.readLoop(transport)
	go l.heartbeatLoop()
	return nil
}

// Events returns the outbound event stream. The channel is closed by Close.
func (l *Link) Events() <-chan Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events
}

// Connected reports whether the transport is open and a heartbeat arrived
// within the timeout window.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open && !l.lastHB.IsZero() && time.Since(l.lastHB) <= l.opts.HeartbeatTimeout
}

// LastSeen returns the arrival time of the most recent inbound heartbeat.
func (l *Link) LastSeen() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHB
}

// Drops returns the number of decoded messages discarded because the event
// stream consumer fell behind.
func (l *Link) Drops() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drops
}

// Target returns the peer system and component ids, refined from the first
// heartbeat received.
func (l *Link) Target() (sys, comp byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.targetSys, l.targetCmp
}

// Send frames and writes one message. The sequence counter increments per
// packet and wraps at 256; it resets only on a new Open. Holding wmu across
// the write keeps packets from interleaving and keeps sequence numbers in
// wire order.
func (l *Link) Send(msg mavlink.Message) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()

	l.mu.Lock()
	if !l.open {
		l.mu.Unlock()
		return ErrNotOpen
	}
	transport := l.transport
	seq := l.seq
	l.seq++
	l.mu.Unlock()

	frame := &mavlink.Frame{
		Version: 2,
		Seq:     seq,
		SysID:   DefaultSystemID,
		CompID:  DefaultComponentID,
		MsgID:   msg.ID(),
		Payload: msg.Marshal(),
	}
	raw, err := frame.Encode()
	if err != nil {
		return err
	}
	if _, err := transport.Write(raw); err != nil {
		return fmt.Errorf("link %d: write: %w", l.VehicleID, err)
	}
	return nil
}

// Command sends a command-long addressed to the current peer identity.
func (l *Link) Command(cmd uint16, p1, p2, p3, p4, p5, p6, p7 float32) error {
	sys, comp := l.Target()
	return l.Send(&mavlink.CommandLong{
		Param1: p1, Param2: p2, Param3: p3, Param4: p4,
		Param5: p5, Param6: p6, Param7: p7,
		Command:         cmd,
		TargetSystem:    sys,
		TargetComponent: comp,
	})
}

// Pending is a registered inbound-message expectation. Registering before a
// send means a reply cannot arrive in a window where nobody is matching; a
// matched message is buffered until Wait collects it.
type Pending struct {
	l *Link
	m *matcher
}

// Expect registers a matcher for the next inbound message satisfying pred.
// Callers must release it with Cancel (Wait does not).
func (l *Link) Expect(pred func(mavlink.Message) bool) *Pending {
	m := &matcher{pred: pred, ch: make(chan mavlink.Message, 1)}
	l.matchMu.Lock()
	l.matchers = append(l.matchers, m)
	l.matchMu.Unlock()
	return &Pending{l: l, m: m}
}

// Cancel unregisters the expectation. Safe after a match or a Wait.
func (p *Pending) Cancel() {
	p.l.removeMatcher(p.m)
}

// Wait blocks until the expected message arrives, the context expires, or the
// link closes.
func (p *Pending) Wait(ctx context.Context) (mavlink.Message, error) {
	p.l.mu.Lock()
	stop := p.l.stop
	p.l.mu.Unlock()
	if stop == nil {
		return nil, ErrNotOpen
	}

	select {
	case msg := <-p.m.ch:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-stop:
		return nil, ErrClosed
	}
}

// Await blocks until a decoded inbound message satisfies pred, the context
// expires, or the link closes.
func (l *Link) Await(ctx context.Context, pred func(mavlink.Message) bool) (mavlink.Message, error) {
	p := l.Expect(pred)
	defer p.Cancel()
	return p.Wait(ctx)
}

func (l *Link) removeMatcher(m *matcher) {
	l.matchMu.Lock()
	defer l.matchMu.Unlock()
	for i, cand := range l.matchers {
		if cand == m {
			l.matchers = append(l.matchers[:i], l.matchers[i+1:]...)
			return
		}
	}
}

// Close stops both loops and closes the transport. Idempotent.
func (l *Link) Close() {
	l.mu.Lock()
	if !l.open {
		l.mu.Unlock()
		return
	}
	l.open = false
	close(l.stop)
	transport := l.transport
	l.transport = nil
	events := l.events
	l.mu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
	l.wg.Wait()
	close(events)
}

func (l *Link) emit(ev Event) {
	ev.VehicleID = l.VehicleID
	l.mu.Lock()
	events := l.events
	open := l.open
	l.mu.Unlock()
	if !open {
		return
	}
	select {
	case events <- ev:
	default:
		// Consumer fell behind; the protocol is lossy over radio anyway.
		l.mu.Lock()
		l.drops++
		l.mu.Unlock()
	}
}

func (l *Link) readLoop(transport io.ReadWriteCloser) {
	defer l.wg.Done()
	dec := mavlink.NewDecoder(transport)
	for {
		frame, err := dec.Next()
		if err != nil {
			select {
			case <-l.stop:
				// Shut down by Close; the read error is the closed transport.
			default:
				util.Error("[link %d] read: %v", l.VehicleID, err)
				l.emit(Event{Kind: EventError, Err: err})
				l.markDown()
			}
			return
		}
		msg, err := mavlink.DecodeMessage(frame)
		if err != nil {
			util.Debugf("[link %d] drop frame id %d: %v", l.VehicleID, frame.MsgID, err)
			continue
		}
		if hb, ok := msg.(*mavlink.Heartbeat); ok && hb.Type != mavlink.TypeGCS {
			l.noteHeartbeat(frame.SysID, frame.CompID)
		}
		l.dispatch(msg)
	}
}

func (l *Link) dispatch(msg mavlink.Message) {
	l.matchMu.Lock()
	for i := 0; i < len(l.matchers); i++ {
		m := l.matchers[i]
		if m.pred(msg) {
			select {
			case m.ch <- msg:
			default:
			}
			l.matchers = append(l.matchers[:i], l.matchers[i+1:]...)
			i--
		}
	}
	l.matchMu.Unlock()
	l.emit(Event{Kind: EventMessage, Msg: msg})
}

func (l *Link) noteHeartbeat(sys, comp byte) {
	l.mu.Lock()
	first := l.lastHB.IsZero()
	l.lastHB = time.Now()
	if first {
		l.targetSys = sys
		l.targetCmp = comp
	}
	up := !l.wasUp
	l.wasUp = true
	needStreams := !l.streamsOn
	l.streamsOn = true
	l.mu.Unlock()

	if up {
		util.Info("[link %d] connected (system %d component %d)", l.VehicleID, sys, comp)
		l.emit(Event{Kind: EventConnected})
	}
	if needStreams {
		go l.requestStreams()
	}
}

// requestStreams asks the autopilot for the telemetry set at 4 Hz.
func (l *Link) requestStreams() {
	ids := []uint32{
		mavlink.MsgIDGlobalPositionInt,
		mavlink.MsgIDGPSRawInt,
		mavlink.MsgIDSysStatus,
		mavlink.MsgIDVFRHud,
		mavlink.MsgIDAttitude,
		mavlink.MsgIDBatteryStatus,
	}
	for _, id := range ids {
		if err := l.Command(mavlink.CmdSetMessageInterval, float32(id), 250000, 0, 0, 0, 0, 0); err != nil {
			util.Debugf("[link %d] stream request %d: %v", l.VehicleID, id, err)
			return
		}
	}
}

func (l *Link) heartbeatLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if err := l.Send(&mavlink.Heartbeat{
				Type:           mavlink.TypeGCS,
				Autopilot:      mavlink.AutopilotInvalid,
				MavlinkVersion: 3,
			}); err != nil {
				util.Debugf("[link %d] heartbeat send: %v", l.VehicleID, err)
			}
			l.checkTimeout()
		}
	}
}

func (l *Link) checkTimeout() {
	l.mu.Lock()
	stale := l.wasUp && !l.lastHB.IsZero() && time.Since(l.lastHB) > l.opts.HeartbeatTimeout
	if stale {
		l.wasUp = false
	}
	l.mu.Unlock()
	if stale {
		util.Warn("[link %d] heartbeat lost", l.VehicleID)
		l.emit(Event{Kind: EventDisconnected})
	}
}

// markDown flags the session as lost after a transport error. Reconnection is
// the registry's responsibility.
func (l *Link) markDown() {
	l.mu.Lock()
	was := l.wasUp
	l.wasUp = false
	l.mu.Unlock()
	if was {
		l.emit(Event{Kind: EventDisconnected})
	}
}
