package app

import (
	"context"
	"net/http"
	"time"

	"agrolink/internal/command"
	"agrolink/internal/mission"
	"agrolink/internal/model"
	"agrolink/internal/payload"
	"agrolink/internal/registry"
	"agrolink/internal/spray"
	"agrolink/internal/util"
	"agrolink/internal/ws"
)

// snapshotJournalPeriod is how often last-known telemetry is persisted.
const snapshotJournalPeriod = 5 * time.Second

// Broker owns every long-lived broker component and their wiring.
type Broker struct {
	Config   *model.Config
	Journal  *Journal
	Parser   *payload.Parser
	Registry *registry.Registry
	Router   *command.Router
	Uploader *mission.Uploader
	Missions *mission.Orchestrator
	Sprayer  *spray.Orchestrator
	Hub      *ws.Hub

	server *http.Server
	stop   chan struct{}
}

// NewBroker builds the full component graph from configuration. Nothing runs
// until Start.
func NewBroker(cfg *model.Config) (*Broker, error) {
	journal, err := OpenJournal(cfg.JournalPath)
	if err != nil {
		return nil, err
	}

	parser := payload.NewParser(cfg.DetectionDedupSize)
	reg := registry.New(cfg, parser)
	router := command.NewRouter(reg, cfg.CommandAckTimeout())
	uploader := mission.NewUploader(cfg.MissionItemTimeout())
	missions := mission.NewOrchestrator(reg, router, uploader, cfg.MissionsDir)
	sprayer := spray.New(cfg.Spray)
	hub := ws.NewHub(reg, router, missions, sprayer, cfg.TelemetryPoll())

	b := &Broker{
		Config:   cfg,
		Journal:  journal,
		Parser:   parser,
		Registry: reg,
		Router:   router,
		Uploader: uploader,
		Missions: missions,
		Sprayer:  sprayer,
		Hub:      hub,
		stop:     make(chan struct{}),
	}
	b.wire()
	return b, nil
}

// wire connects the event producers to the operator channel and the journal.
func (b *Broker) wire() {
	b.Parser.OnDetection = func(ev model.DetectionEvent) {
		if err := b.Journal.SaveDetection(ev); err != nil {
			util.Error("[app] journal detection %s: %v", ev.DetectionID, err)
		}
		b.Hub.Broadcast("crop_detection", ev)
	}
	b.Parser.OnStats = func(s model.DetectionStats) {
		b.Hub.Broadcast("detection_stats", s)
	}
	b.Parser.OnImage = func(img model.ImageCaptured) {
		b.Hub.Broadcast("image_captured", img)
	}
	b.Parser.OnPiStats = func(s model.PiStats) {
		b.Hub.Broadcast("pi_stats", s)
	}
	b.Parser.OnPlain = func(vehicleID int, rec model.StatusRecord) {
		b.Hub.Broadcast("status_message", map[string]any{
			"drone_id": vehicleID,
			"severity": rec.Severity,
			"text":     rec.Text,
		})
	}

	b.Registry.OnConnected = func(vehicleID int) {
		b.Hub.Broadcast("drone_connected", map[string]any{"drone_id": vehicleID})
	}
	b.Registry.OnDisconnected = func(vehicleID int) {
		b.Hub.Broadcast("drone_disconnected", map[string]any{"drone_id": vehicleID})
	}

	b.Missions.Notify = func(ev mission.Event) { b.Hub.BroadcastEvent(ev) }
	b.Sprayer.Notify = func(ev spray.Event) { b.Hub.BroadcastEvent(ev) }
}

// Start connects configured vehicles, launches the operator channel and the
// HTTP listener, and begins periodic snapshot journaling. The HTTP server
// runs until Stop.
func (b *Broker) Start() error {
	b.Registry.Start()
	b.Hub.Start()
	go b.journalLoop()

	b.server = &http.Server{Addr: b.Config.HTTPAddr, Handler: b.routes()}
	util.Info("[app] listening on %s", b.Config.HTTPAddr)
	go func() {
		if err := b.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Error("[app] http server: %v", err)
		}
	}()
	return nil
}

// Stop tears the broker down in dependency order: listener first, then the
// orchestrators, the links, and finally the journal.
func (b *Broker) Stop() {
	close(b.stop)
	if b.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := b.server.Shutdown(ctx); err != nil {
			util.Warn("[app] http shutdown: %v", err)
		}
		cancel()
	}
	b.Hub.Stop()
	b.Missions.StopAll()
	b.Sprayer.Shutdown()
	b.Registry.Stop()
	if err := b.Journal.Close(); err != nil {
		util.Warn("[app] journal close: %v", err)
	}
	util.Info("[app] broker stopped")
}

// journalLoop periodically records last-known telemetry for every connected
// vehicle so offline queries still have an answer.
func (b *Broker) journalLoop() {
	ticker := time.NewTicker(snapshotJournalPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
		}
		for _, v := range b.Registry.List() {
			if !v.Connected || v.Telemetry == nil {
				continue
			}
			if err := b.Journal.SaveSnapshot(v.ID, *v.Telemetry); err != nil {
				util.Debugf("[app] journal snapshot %d: %v", v.ID, err)
			}
		}
	}
}
