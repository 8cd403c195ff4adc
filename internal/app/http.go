package app

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"agrolink/internal/command"
	"agrolink/internal/link"
	"agrolink/internal/mission"
	"agrolink/internal/model"
	"agrolink/internal/registry"
	"agrolink/internal/spray"
)

// routes mounts the diagnostic HTTP API and the websocket endpoint on one
// gin engine. Handlers are thin adapters; the router and orchestrators hold
// the actual logic.
func (b *Broker) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ws", gin.WrapF(b.Hub.HandleWS))
	r.GET("/drones", b.handleDrones)
	r.GET("/detections", b.handleDetections)

	d := r.Group("/drone/:id")
	{
		d.POST("/arm", b.command("arm"))
		d.POST("/disarm", b.command("disarm"))
		d.POST("/takeoff", b.command("takeoff"))
		d.POST("/land", b.command("land"))
		d.POST("/rtl", b.command("rtl"))
		d.POST("/goto", b.command("goto"))
		d.POST("/mode", b.command("set_mode"))
		d.POST("/reconnect", b.handleReconnect)
		d.POST("/simulate", b.handleSimulate)
		d.GET("/telemetry", b.handleTelemetry)

		d.POST("/mission/upload", b.handleMissionUpload)
		d.POST("/mission/start", b.handleMissionStart)
		d.POST("/mission/pause", b.missionCtl("pause"))
		d.POST("/mission/resume", b.missionCtl("resume"))
		d.POST("/mission/stop", b.missionCtl("stop"))
		d.GET("/mission/status", b.handleMissionStatus)

		d.POST("/spray/queue", b.handleSprayQueue)
		d.POST("/spray/start", b.sprayCtl("spray_start"))
		d.POST("/spray/stop", b.sprayCtl("spray_stop"))
		d.POST("/spray/clear", b.sprayCtl("spray_clear_queue"))
		d.POST("/spray/refill-complete", b.sprayCtl("spray_refill_complete"))
		d.POST("/spray/target-completed", b.handleSprayTargetCompleted)
		d.GET("/spray/status", b.handleSprayStatus)
	}
	return r
}

func vehicleID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false, "error": "invalid vehicle id",
		})
		return 0, false
	}
	return id, true
}

// fail maps broker errors onto the response envelope: 404 for unknown
// vehicles, 400 for domain errors, 500 otherwise.
func fail(c *gin.Context, cmd string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrUnknownVehicle):
		status = http.StatusNotFound
	case errors.Is(err, command.ErrNotConnected),
		errors.Is(err, command.ErrRejected),
		errors.Is(err, command.ErrAckTimeout),
		errors.Is(err, command.ErrUnknownCommand),
		errors.Is(err, command.ErrUnknownMode),
		errors.Is(err, mission.ErrEmptyMission),
		errors.Is(err, mission.ErrUploadInProgress),
		errors.Is(err, mission.ErrUploadRejected),
		errors.Is(err, mission.ErrUploadTimeout),
		errors.Is(err, mission.ErrMissionActive),
		errors.Is(err, mission.ErrNoMission),
		errors.Is(err, spray.ErrNoTargets),
		errors.Is(err, spray.ErrSprayActive),
		errors.Is(err, spray.ErrNoSprayMission),
		errors.Is(err, spray.ErrTankLow),
		errors.Is(err, link.ErrNotOpen):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"success": false, "command": cmd, "error": err.Error()})
}

func ok(c *gin.Context, cmd string, extra gin.H) {
	resp := gin.H{"success": true, "command": cmd}
	for k, v := range extra {
		resp[k] = v
	}
	c.JSON(http.StatusOK, resp)
}

func (b *Broker) handleDrones(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "drones": b.Registry.List()})
}

func (b *Broker) handleDetections(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	dets, err := b.Journal.Detections(limit)
	if err != nil {
		fail(c, "detections", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "detections": dets})
}

// handleTelemetry serves the live snapshot, falling back to the journaled
// last-known state when the vehicle is offline.
func (b *Broker) handleTelemetry(c *gin.Context) {
	id, valid := vehicleID(c)
	if !valid {
		return
	}
	snap, ring, err := b.Registry.Read(id)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{
			"success": true, "live": true, "telemetry": snap, "status_messages": ring,
		})
		return
	}
	if last, found := b.Journal.LastSnapshot(id); found {
		c.JSON(http.StatusOK, gin.H{"success": true, "live": false, "telemetry": last})
		return
	}
	fail(c, "telemetry", err)
}

func (b *Broker) command(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := vehicleID(c)
		if !valid {
			return
		}
		var p command.Params
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&p); err != nil {
				fail(c, name, err)
				return
			}
		}
		if err := b.Router.Execute(c.Request.Context(), id, name, p); err != nil {
			fail(c, name, err)
			return
		}
		ok(c, name, gin.H{"drone_id": id})
	}
}

func (b *Broker) handleReconnect(c *gin.Context) {
	id, valid := vehicleID(c)
	if !valid {
		return
	}
	if err := b.Registry.Reconnect(id); err != nil {
		fail(c, "reconnect", err)
		return
	}
	ok(c, "reconnect", gin.H{"drone_id": id})
}

func (b *Broker) handleSimulate(c *gin.Context) {
	id, valid := vehicleID(c)
	if !valid {
		return
	}
	if err := b.Registry.Simulate(id); err != nil {
		fail(c, "simulate", err)
		return
	}
	ok(c, "simulate", gin.H{"drone_id": id})
}

type waypointBody struct {
	Waypoints []model.Waypoint `json:"waypoints"`
}

// handleMissionUpload transfers waypoints without starting the mission.
func (b *Broker) handleMissionUpload(c *gin.Context) {
	id, valid := vehicleID(c)
	if !valid {
		return
	}
	var body waypointBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, "mission_upload", err)
		return
	}
	l, err := b.Registry.LinkFor(id)
	if err != nil {
		fail(c, "mission_upload", err)
		return
	}
	total, err := b.Uploader.Upload(c.Request.Context(), l, body.Waypoints, nil)
	if err != nil {
		fail(c, "mission_upload", err)
		return
	}
	ok(c, "mission_upload", gin.H{"drone_id": id, "total_items": total})
}

func (b *Broker) handleMissionStart(c *gin.Context) {
	id, valid := vehicleID(c)
	if !valid {
		return
	}
	var body waypointBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, "mission_start", err)
		return
	}
	missionID, err := b.Missions.Start(c.Request.Context(), id, body.Waypoints)
	if err != nil {
		fail(c, "mission_start", err)
		return
	}
	ok(c, "mission_start", gin.H{"drone_id": id, "mission_id": missionID})
}

func (b *Broker) missionCtl(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := vehicleID(c)
		if !valid {
			return
		}
		var err error
		switch action {
		case "pause":
			err = b.Missions.Pause(c.Request.Context(), id)
		case "resume":
			err = b.Missions.Resume(c.Request.Context(), id)
		case "stop":
			err = b.Missions.Stop(c.Request.Context(), id)
		}
		cmd := "mission_" + action
		if err != nil {
			fail(c, cmd, err)
			return
		}
		ok(c, cmd, gin.H{"drone_id": id})
	}
}

func (b *Broker) handleMissionStatus(c *gin.Context) {
	id, valid := vehicleID(c)
	if !valid {
		return
	}
	st, err := b.Missions.StatusOf(id)
	if err != nil {
		fail(c, "mission_status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "mission": st})
}

type sprayQueueBody struct {
	Detections []model.DetectionEvent `json:"detections"`
}

func (b *Broker) handleSprayQueue(c *gin.Context) {
	id, valid := vehicleID(c)
	if !valid {
		return
	}
	var body sprayQueueBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, "spray_queue_targets", err)
		return
	}
	if err := b.Sprayer.QueueTargets(id, body.Detections); err != nil {
		fail(c, "spray_queue_targets", err)
		return
	}
	ok(c, "spray_queue_targets", gin.H{"drone_id": id, "queued": len(body.Detections)})
}

func (b *Broker) sprayCtl(cmd string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := vehicleID(c)
		if !valid {
			return
		}
		var err error
		switch cmd {
		case "spray_start":
			err = b.Sprayer.Start(id)
		case "spray_stop":
			err = b.Sprayer.Stop(id)
		case "spray_clear_queue":
			err = b.Sprayer.ClearQueue(id)
		case "spray_refill_complete":
			err = b.Sprayer.RefillComplete(id)
		}
		if err != nil {
			fail(c, cmd, err)
			return
		}
		ok(c, cmd, gin.H{"drone_id": id})
	}
}

type sprayCompleteBody struct {
	TargetID string `json:"target_id"`
	Success  *bool  `json:"success"`
}

func (b *Broker) handleSprayTargetCompleted(c *gin.Context) {
	id, valid := vehicleID(c)
	if !valid {
		return
	}
	var body sprayCompleteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, "spray_target_completed", err)
		return
	}
	success := body.Success == nil || *body.Success
	if err := b.Sprayer.TargetCompleted(id, body.TargetID, success); err != nil {
		fail(c, "spray_target_completed", err)
		return
	}
	ok(c, "spray_target_completed", gin.H{"drone_id": id, "target_id": body.TargetID})
}

func (b *Broker) handleSprayStatus(c *gin.Context) {
	id, valid := vehicleID(c)
	if !valid {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "spray": b.Sprayer.Status(id)})
}
