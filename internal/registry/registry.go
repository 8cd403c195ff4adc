// Package registry owns the set of vehicle links. It applies connect,
// disconnect, simulate and reconnect policy, pumps decoded link traffic into
// the per-vehicle telemetry aggregator and the payload parser, and answers
// snapshot queries. Components receive the registry by reference; there is no
// module-level state.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"agrolink/internal/link"
	"agrolink/internal/model"
	"agrolink/internal/payload"
	"agrolink/internal/telemetry"
	"agrolink/internal/util"
)

// ErrUnknownVehicle reports an operation on a vehicle id nobody configured
// or connected.
var ErrUnknownVehicle = errors.New("registry: unknown vehicle")

// Vehicle is one managed flight controller.
type Vehicle struct {
	ID        int
	Endpoint  string
	Baud      int
	Simulated bool

	Link *link.Link
	Agg  *telemetry.Aggregator

	// Sim is non-nil while the vehicle runs against the in-process simulator.
	Sim *link.SimTransport
}

// Registry is the single owner of all vehicle sessions.
type Registry struct {
	cfg    *model.Config
	parser *payload.Parser

	// OnConnected and OnDisconnected fan link state changes out to the
	// operator channel. Set before Start; never mutated afterwards.
	OnConnected    func(vehicleID int)
	OnDisconnected func(vehicleID int)

	mu       sync.Mutex
	vehicles map[int]*Vehicle

	wg sync.WaitGroup
}

// New creates an empty registry over the given configuration and parser.
func New(cfg *model.Config, parser *payload.Parser) *Registry {
	return &Registry{
		cfg:      cfg,
		parser:   parser,
		vehicles: make(map[int]*Vehicle),
	}
}

// Start applies the startup policy: attempt to connect every configured
// vehicle. Failures are logged; the vehicle entry stays present and
// disconnected so an operator can retry.
func (r *Registry) Start() {
	for _, vc := range r.cfg.Vehicles {
		if err := r.Connect(vc.ID, vc.Endpoint, vc.Baud); err != nil {
			util.Error("[registry] vehicle %d: connect %s: %v", vc.ID, vc.Endpoint, err)
		}
	}
}

// Stop closes every link and waits for the pumps to drain.
func (r *Registry) Stop() {
	r.mu.Lock()
	links := make([]*link.Link, 0, len(r.vehicles))
	for _, v := range r.vehicles {
		if v.Link != nil {
			links = append(links, v.Link)
		}
	}
	r.mu.Unlock()
	for _, l := range links {
		l.Close()
	}
	r.wg.Wait()
}

// Connect creates or refreshes a vehicle entry and opens its link. An open
// link for the same id is closed first.
func (r *Registry) Connect(vehicleID int, endpoint string, baud int) error {
	if baud <= 0 {
		baud = 57600
	}
	r.mu.Lock()
	v, ok := r.vehicles[vehicleID]
	if !ok {
		v = &Vehicle{ID: vehicleID, Agg: telemetry.New(r.cfg.StatusRingSize)}
		r.vehicles[vehicleID] = v
	}
	v.Endpoint = endpoint
	v.Baud = baud
	v.Simulated = endpoint == model.SimulatedEndpoint
	old := v.Link
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}

	transport, err := link.Dial(vehicleID, endpoint, baud)
	if err != nil {
		return err
	}

	l := link.New(vehicleID, link.Options{
		HeartbeatInterval: r.cfg.HeartbeatInterval(),
		HeartbeatTimeout:  r.cfg.HeartbeatTimeout(),
	})
	if err := l.Open(transport); err != nil {
		_ = transport.Close()
		return err
	}

	r.mu.Lock()
	v.Link = l
	if sim, ok := transport.(*link.SimTransport); ok {
		v.Sim = sim
	} else {
		v.Sim = nil
	}
	r.mu.Unlock()

	r.wg.Add(1)
	go r.pump(v, l)
	util.Info("[registry] vehicle %d: link opened on %s @ %d", vehicleID, endpoint, baud)
	return nil
}

// Simulate switches a vehicle to the in-process simulator.
func (r *Registry) Simulate(vehicleID int) error {
	return r.Connect(vehicleID, model.SimulatedEndpoint, 57600)
}

// Disconnect closes the vehicle's link but keeps the entry.
func (r *Registry) Disconnect(vehicleID int) error {
	r.mu.Lock()
	v, ok := r.vehicles[vehicleID]
	var l *link.Link
	if ok {
		l = v.Link
		v.Link = nil
		v.Sim = nil
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownVehicle, vehicleID)
	}
	if l != nil {
		l.Close()
	}
	return nil
}

// Reconnect closes and reopens the link with the retained configuration.
func (r *Registry) Reconnect(vehicleID int) error {
	r.mu.Lock()
	v, ok := r.vehicles[vehicleID]
	var endpoint string
	var baud int
	if ok {
		endpoint, baud = v.Endpoint, v.Baud
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownVehicle, vehicleID)
	}
	return r.Connect(vehicleID, endpoint, baud)
}

// Sync ensures a link exists and is open for every configured vehicle.
// The per-vehicle outcome is returned keyed by vehicle id.
func (r *Registry) Sync() map[int]error {
	out := make(map[int]error, len(r.cfg.Vehicles))
	for _, vc := range r.cfg.Vehicles {
		r.mu.Lock()
		v, ok := r.vehicles[vc.ID]
		healthy := ok && v.Link != nil && v.Link.Connected()
		r.mu.Unlock()
		if healthy {
			out[vc.ID] = nil
			continue
		}
		out[vc.ID] = r.Connect(vc.ID, vc.Endpoint, vc.Baud)
	}
	return out
}

// List summarizes all vehicles. Telemetry is attached for connected links.
// The summaries are built under r.mu: Connect and Disconnect mutate the
// per-vehicle fields, and the fan-out loop calls List concurrently with them.
func (r *Registry) List() []model.VehicleSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.VehicleSummary, 0, len(r.vehicles))
	for _, v := range r.vehicles {
		s := model.VehicleSummary{
			ID:        v.ID,
			Endpoint:  v.Endpoint,
			Simulated: v.Simulated,
		}
		if v.Link != nil {
			s.Connected = v.Link.Connected()
			s.LastSeen = v.Link.LastSeen()
		}
		if s.Connected {
			snap := v.Agg.Snapshot()
			s.Telemetry = &snap
		}
		out = append(out, s)
	}
	return out
}

// Lookup returns the vehicle entry for an id.
func (r *Registry) Lookup(vehicleID int) (*Vehicle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vehicles[vehicleID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVehicle, vehicleID)
	}
	return v, nil
}

// LinkFor returns the open link for a vehicle, or an error when the vehicle
// is unknown or disconnected.
func (r *Registry) LinkFor(vehicleID int) (*link.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vehicles[vehicleID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVehicle, vehicleID)
	}
	if v.Link == nil {
		return nil, link.ErrNotOpen
	}
	return v.Link, nil
}

// Snapshot returns a copy of a vehicle's live telemetry.
func (r *Registry) Snapshot(vehicleID int) (model.Snapshot, error) {
	v, err := r.Lookup(vehicleID)
	if err != nil {
		return model.Snapshot{}, err
	}
	return v.Agg.Snapshot(), nil
}

// Read returns a vehicle's snapshot plus its status-string ring.
func (r *Registry) Read(vehicleID int) (model.Snapshot, []model.StatusRecord, error) {
	v, err := r.Lookup(vehicleID)
	if err != nil {
		return model.Snapshot{}, nil, err
	}
	snap, ring := v.Agg.Read()
	return snap, ring, nil
}

// pump forwards one link's event stream into the aggregator, the payload
// parser and the state-change callbacks. It exits when the link closes.
func (r *Registry) pump(v *Vehicle, l *link.Link) {
	defer r.wg.Done()
	for ev := range l.Events() {
		switch ev.Kind {
		case link.EventMessage:
			if rec := v.Agg.Apply(ev.Msg); rec != nil && r.parser != nil {
				r.parser.Scan(v.ID, *rec)
			}
		case link.EventConnected:
			if r.OnConnected != nil {
				r.OnConnected(v.ID)
			}
		case link.EventDisconnected:
			if r.OnDisconnected != nil {
				r.OnDisconnected(v.ID)
			}
		case link.EventError:
			util.Debugf("[registry] vehicle %d: link error: %v", v.ID, ev.Err)
		}
	}
}
