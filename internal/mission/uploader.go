// Package mission implements the waypoint upload handshake and the automated
// mission workflow (upload, pre-arm check, arm, mode switches, progress
// monitoring, completion archive).
package mission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agrolink/internal/link"
	"agrolink/internal/mavlink"
	"agrolink/internal/model"
	"agrolink/internal/util"
)

var (
	// ErrEmptyMission reports an upload with no waypoints.
	ErrEmptyMission = errors.New("empty mission")
	// ErrUploadInProgress reports a second overlapping upload for one vehicle.
	ErrUploadInProgress = errors.New("mission upload already in progress")
	// ErrUploadTimeout reports a handshake that stalled past its retries.
	ErrUploadTimeout = errors.New("mission upload timed out")
	// ErrUploadRejected reports a mission-ack with a non-accepted code.
	ErrUploadRejected = errors.New("mission upload rejected")
)

// Altitude in metres for the horizontal transit to the first survey point.
const transitAltitude = 5

// Default survey altitude when the first waypoint does not carry one.
const defaultSurveyAltitude = 15

// itemRetries is how many times the last item is retransmitted before the
// upload fails.
const itemRetries = 3

// Uploader transfers waypoint sequences using the mission sub-protocol.
// At most one upload is in flight per vehicle.
type Uploader struct {
	itemTimeout time.Duration

	mu       sync.Mutex
	inFlight map[int]bool
}

// NewUploader creates an uploader with the configured per-item deadline.
func NewUploader(itemTimeout time.Duration) *Uploader {
	if itemTimeout <= 0 {
		itemTimeout = 3 * time.Second
	}
	return &Uploader{itemTimeout: itemTimeout, inFlight: make(map[int]bool)}
}

// Expand builds the full mission sequence from an operator waypoint list:
// a transit waypoint to the first survey point at low altitude, a takeoff at
// the first survey point at survey altitude (real coordinates, never zero),
// the operator waypoints in order, and a return-to-launch terminator.
func Expand(wps []model.Waypoint, targetSys, targetComp byte) []*mavlink.MissionItemInt {
	first := wps[0]
	surveyAlt := first.Alt
	if surveyAlt <= 0 {
		surveyAlt = defaultSurveyAltitude
	}

	items := make([]*mavlink.MissionItemInt, 0, len(wps)+3)
	add := func(cmd uint16, lat, lon, alt float64) {
		items = append(items, &mavlink.MissionItemInt{
			X:               int32(lat * 1e7),
			Y:               int32(lon * 1e7),
			Z:               float32(alt),
			Seq:             uint16(len(items)),
			Command:         cmd,
			TargetSystem:    targetSys,
			TargetComponent: targetComp,
			Frame:           mavlink.FrameGlobalRelativeAltInt,
			Autocontinue:    1,
		})
	}

	add(mavlink.CmdNavWaypoint, first.Lat, first.Lon, transitAltitude)
	add(mavlink.CmdNavTakeoff, first.Lat, first.Lon, surveyAlt)
	for _, wp := range wps {
		alt := wp.Alt
		if alt <= 0 {
			alt = surveyAlt
		}
		add(mavlink.CmdNavWaypoint, wp.Lat, wp.Lon, alt)
	}
	add(mavlink.CmdNavReturnToLaunch, 0, 0, 0)
	return items
}

// Upload runs the count/request/item handshake for one vehicle. It returns
// the uploaded item count. progress, when non-nil, is invoked after each
// item the vehicle acknowledges by requesting the next.
func (u *Uploader) Upload(ctx context.Context, l *link.Link, wps []model.Waypoint, progress func(sent, total int)) (int, error) {
	if len(wps) == 0 {
		return 0, ErrEmptyMission
	}

	u.mu.Lock()
	if u.inFlight[l.VehicleID] {
		u.mu.Unlock()
		return 0, fmt.Errorf("%w: vehicle %d", ErrUploadInProgress, l.VehicleID)
	}
	u.inFlight[l.VehicleID] = true
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		delete(u.inFlight, l.VehicleID)
		u.mu.Unlock()
	}()

	targetSys, targetComp := l.Target()
	items := Expand(wps, targetSys, targetComp)
	total := len(items)

	util.Info("[mission] vehicle %d: uploading %d items (%d survey waypoints)",
		l.VehicleID, total, len(wps))

	isReply := func(m mavlink.Message) bool {
		switch m.(type) {
		case *mavlink.MissionRequest, *mavlink.MissionAck:
			return true
		}
		return false
	}

	// The expectation is armed before every send so a reply dispatched in the
	// window between the write returning and the wait starting is buffered
	// rather than dropped.
	pending := l.Expect(isReply)
	defer func() { pending.Cancel() }()

	if err := l.Send(&mavlink.MissionCount{
		Count:           uint16(total),
		TargetSystem:    targetSys,
		TargetComponent: targetComp,
	}); err != nil {
		return 0, err
	}

	// The vehicle drives the transfer: it requests each item by sequence
	// number and closes with a mission-ack.
	var lastSent *mavlink.MissionItemInt
	retries := 0
	for {
		waitCtx, cancel := context.WithTimeout(ctx, u.itemTimeout)
		msg, err := pending.Wait(waitCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			if retries >= itemRetries {
				return 0, fmt.Errorf("%w: vehicle %d after %d retries",
					ErrUploadTimeout, l.VehicleID, retries)
			}
			retries++
			resend := lastSent
			if resend == nil {
				// No request ever arrived; re-announce the count.
				if err := l.Send(&mavlink.MissionCount{
					Count:           uint16(total),
					TargetSystem:    targetSys,
					TargetComponent: targetComp,
				}); err != nil {
					return 0, err
				}
				continue
			}
			util.Warn("[mission] vehicle %d: item %d retransmit %d",
				l.VehicleID, resend.Seq, retries)
			if err := l.Send(resend); err != nil {
				return 0, err
			}
			continue
		}

		switch m := msg.(type) {
		case *mavlink.MissionRequest:
			// A matched expectation is consumed; re-arm before the next send.
			pending.Cancel()
			pending = l.Expect(isReply)
			if int(m.Seq) >= total {
				util.Debugf("[mission] vehicle %d: ignoring request for seq %d",
					l.VehicleID, m.Seq)
				continue
			}
			retries = 0
			lastSent = items[m.Seq]
			if err := l.Send(lastSent); err != nil {
				return 0, err
			}
			if progress != nil {
				progress(int(m.Seq)+1, total)
			}
		case *mavlink.MissionAck:
			if m.Type != mavlink.MissionAccepted {
				return 0, fmt.Errorf("%w: vehicle %d ack code %d",
					ErrUploadRejected, l.VehicleID, m.Type)
			}
			util.Info("[mission] vehicle %d: upload accepted (%d items)", l.VehicleID, total)
			return total, nil
		}
	}
}
