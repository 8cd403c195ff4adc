package ws

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"agrolink/internal/command"
	"agrolink/internal/model"
	"agrolink/internal/util"
)

// requestTimeout bounds one inbound operator command end to end.
const requestTimeout = 15 * time.Second

// inbound is the superset of fields an operator command may carry.
type inbound struct {
	Type       string                 `json:"type"`
	DroneID    int                    `json:"drone_id"`
	Mode       string                 `json:"mode"`
	Altitude   float64                `json:"altitude"`
	Latitude   float64                `json:"latitude"`
	Longitude  float64                `json:"longitude"`
	Waypoints  []model.Waypoint       `json:"waypoints"`
	Detections []model.DetectionEvent `json:"detections"`
	TargetID   string                 `json:"target_id"`
	Success    *bool                  `json:"success"`
}

// dispatch validates one inbound operator message and routes it to the
// command router, registry or orchestrators. Every command gets a
// command_result reply to the originating client.
func (h *Hub) dispatch(c *client, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.reply(c, "invalid", 0, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch msg.Type {
	case "arm", "disarm", "set_mode", "takeoff", "land", "rtl", "goto":
		err := h.router.Execute(ctx, msg.DroneID, msg.Type, command.Params{
			Mode:     msg.Mode,
			Altitude: msg.Altitude,
			Lat:      msg.Latitude,
			Lon:      msg.Longitude,
		})
		h.reply(c, msg.Type, msg.DroneID, err)

	case "reconnect":
		h.reply(c, msg.Type, msg.DroneID, h.reg.Reconnect(msg.DroneID))
	case "simulate":
		h.reply(c, msg.Type, msg.DroneID, h.reg.Simulate(msg.DroneID))
	case "sync":
		results := h.reg.Sync()
		status := map[string]any{}
		for id, err := range results {
			if err != nil {
				status[strconv.Itoa(id)] = err.Error()
			} else {
				status[strconv.Itoa(id)] = "connected"
			}
		}
		c.send(envelopeOrLog("sync_result", map[string]any{"results": status}))

	case "start_mission":
		missionID, err := h.missions.Start(ctx, msg.DroneID, msg.Waypoints)
		if err != nil {
			h.reply(c, msg.Type, msg.DroneID, err)
			return
		}
		c.send(envelopeOrLog("command_result", map[string]any{
			"success": true, "command": msg.Type,
			"drone_id": msg.DroneID, "mission_id": missionID,
		}))
	case "pause_mission":
		h.reply(c, msg.Type, msg.DroneID, h.missions.Pause(ctx, msg.DroneID))
	case "resume_mission":
		h.reply(c, msg.Type, msg.DroneID, h.missions.Resume(ctx, msg.DroneID))
	case "stop_mission":
		h.reply(c, msg.Type, msg.DroneID, h.missions.Stop(ctx, msg.DroneID))

	case "spray_queue_targets":
		h.reply(c, msg.Type, msg.DroneID, h.sprayer.QueueTargets(msg.DroneID, msg.Detections))
	case "spray_start":
		h.reply(c, msg.Type, msg.DroneID, h.sprayer.Start(msg.DroneID))
	case "spray_stop":
		h.reply(c, msg.Type, msg.DroneID, h.sprayer.Stop(msg.DroneID))
	case "spray_clear_queue":
		h.reply(c, msg.Type, msg.DroneID, h.sprayer.ClearQueue(msg.DroneID))
	case "spray_refill_complete":
		h.reply(c, msg.Type, msg.DroneID, h.sprayer.RefillComplete(msg.DroneID))
	case "spray_target_completed":
		success := msg.Success == nil || *msg.Success
		h.reply(c, msg.Type, msg.DroneID, h.sprayer.TargetCompleted(msg.DroneID, msg.TargetID, success))

	case "request_drone_list":
		c.send(envelopeOrLog("drones_status", map[string]any{"drones": h.reg.List()}))

	default:
		util.Warn("[ws] unknown inbound message type %q", msg.Type)
		c.send(envelopeOrLog("command_result", map[string]any{
			"success": false, "command": msg.Type, "error": "unknown message type",
		}))
	}
}

// reply sends a command_result to the originating client.
func (h *Hub) reply(c *client, cmd string, vehicleID int, err error) {
	fields := map[string]any{
		"success":  err == nil,
		"command":  cmd,
		"drone_id": vehicleID,
	}
	if err != nil {
		fields["error"] = err.Error()
		util.Warn("[ws] %s vehicle %d: %v", cmd, vehicleID, err)
	}
	c.send(envelopeOrLog("command_result", fields))
}

func (c *client) send(buf []byte) {
	if buf != nil {
		c.enqueue(buf)
	}
}

func envelopeOrLog(typ string, payload any) []byte {
	buf, err := envelope(typ, payload)
	if err != nil {
		util.Error("[ws] marshal %s: %v", typ, err)
		return nil
	}
	return buf
}
