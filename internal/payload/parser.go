// Package payload decodes tagged records that the vehicle's payload computer
// smuggles through MAVLink status-strings. Four pipe-delimited tags exist:
//
//	DET|<id>|<lat>|<lon>|<conf>|<area>        crop detection
//	DSTAT|<total>|<active>|<mission>          detection summary
//	IMG|<id>|<lat>|<lon>|<type>|<mission>     image-captured metadata
//	STAT|<cpu>|<mem>|<disk>|<temp>            payload-host stats
//
// Untagged strings are ordinary autopilot messages and pass through as plain
// status records. Detections are deduplicated by id with a bounded FIFO set.
package payload

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"agrolink/internal/model"
	"agrolink/internal/util"
)

// DetectionSource marks events decoded from the serial link.
const DetectionSource = "serial-link"

// Parser scans status records for tagged payload events.
type Parser struct {
	dedup *dedupSet

	// Sinks are invoked synchronously from Scan; they must not block.
	OnDetection func(model.DetectionEvent)
	OnStats     func(model.DetectionStats)
	OnImage     func(model.ImageCaptured)
	OnPiStats   func(model.PiStats)
	OnPlain     func(vehicleID int, rec model.StatusRecord)
}

// NewParser creates a parser whose duplicate-suppression set holds at most
// dedupSize detection ids (FIFO eviction).
func NewParser(dedupSize int) *Parser {
	if dedupSize <= 0 {
		dedupSize = 1000
	}
	return &Parser{dedup: newDedupSet(dedupSize)}
}

// Scan inspects one newly-appended status record. Known tags produce exactly
// one typed event and no plain status message; unknown text falls through as
// a plain status message. Malformed tagged records are dropped.
func (p *Parser) Scan(vehicleID int, rec model.StatusRecord) {
	tag, rest, found := strings.Cut(rec.Text, "|")
	if !found {
		p.plain(vehicleID, rec)
		return
	}
	var err error
	switch tag {
	case "DET":
		err = p.scanDetection(vehicleID, rest, rec.Timestamp)
	case "DSTAT":
		err = p.scanStats(vehicleID, rest, rec.Timestamp)
	case "IMG":
		err = p.scanImage(vehicleID, rest, rec.Timestamp)
	case "STAT":
		err = p.scanPiStats(vehicleID, rest, rec.Timestamp)
	default:
		p.plain(vehicleID, rec)
		return
	}
	if err != nil {
		util.Debugf("[payload] vehicle %d: drop malformed %s record: %v", vehicleID, tag, err)
	}
}

func (p *Parser) plain(vehicleID int, rec model.StatusRecord) {
	if p.OnPlain != nil {
		p.OnPlain(vehicleID, rec)
	}
}

func (p *Parser) scanDetection(vehicleID int, rest string, ts time.Time) error {
	fields := strings.Split(rest, "|")
	if len(fields) < 5 {
		return fmt.Errorf("expected 5 fields, got %d", len(fields))
	}
	id := fields[0]
	if id == "" {
		return fmt.Errorf("empty detection id")
	}
	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return fmt.Errorf("invalid lat %q", fields[1])
	}
	lon, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return fmt.Errorf("invalid lon %q", fields[2])
	}
	conf, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return fmt.Errorf("invalid confidence %q", fields[3])
	}
	area, err := strconv.Atoi(fields[4])
	if err != nil {
		return fmt.Errorf("invalid area %q", fields[4])
	}
	if !p.dedup.admit(id) {
		// Already emitted; the payload repeats detections over the radio.
		return nil
	}
	if p.OnDetection != nil {
		p.OnDetection(model.DetectionEvent{
			DetectionID: id,
			Latitude:    lat,
			Longitude:   lon,
			Confidence:  conf,
			Area:        area,
			Source:      DetectionSource,
			VehicleID:   vehicleID,
			Timestamp:   ts,
		})
	}
	return nil
}

func (p *Parser) scanStats(vehicleID int, rest string, ts time.Time) error {
	fields := strings.Split(rest, "|")
	if len(fields) < 3 {
		return fmt.Errorf("expected 3 fields, got %d", len(fields))
	}
	total, err := strconv.Atoi(fields[0])
	if err != nil {
		return fmt.Errorf("invalid total %q", fields[0])
	}
	active, err := strconv.Atoi(fields[1])
	if err != nil {
		return fmt.Errorf("invalid active %q", fields[1])
	}
	if p.OnStats != nil {
		p.OnStats(model.DetectionStats{
			VehicleID: vehicleID,
			Total:     total,
			Active:    active,
			MissionID: fields[2],
			Timestamp: ts,
		})
	}
	return nil
}

func (p *Parser) scanImage(vehicleID int, rest string, ts time.Time) error {
	fields := strings.Split(rest, "|")
	if len(fields) < 5 {
		return fmt.Errorf("expected 5 fields, got %d", len(fields))
	}
	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return fmt.Errorf("invalid lat %q", fields[1])
	}
	lon, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return fmt.Errorf("invalid lon %q", fields[2])
	}
	if p.OnImage != nil {
		p.OnImage(model.ImageCaptured{
			VehicleID: vehicleID,
			ImageID:   fields[0],
			Latitude:  lat,
			Longitude: lon,
			ImageType: fields[3],
			MissionID: fields[4],
			Timestamp: ts,
		})
	}
	return nil
}

func (p *Parser) scanPiStats(vehicleID int, rest string, ts time.Time) error {
	fields := strings.Split(rest, "|")
	if len(fields) < 4 {
		return fmt.Errorf("expected 4 fields, got %d", len(fields))
	}
	vals := make([]float64, 4)
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return fmt.Errorf("invalid field %d %q", i, fields[i])
		}
		vals[i] = v
	}
	if p.OnPiStats != nil {
		p.OnPiStats(model.PiStats{
			VehicleID:   vehicleID,
			CPUPercent:  vals[0],
			MemPercent:  vals[1],
			DiskPercent: vals[2],
			TempC:       vals[3],
			Timestamp:   ts,
		})
	}
	return nil
}

// dedupSet is a bounded set of detection ids with FIFO eviction.
type dedupSet struct {
	cap   int
	seen  map[string]struct{}
	order []string
}

func newDedupSet(capacity int) *dedupSet {
	return &dedupSet{cap: capacity, seen: make(map[string]struct{}, capacity)}
}

// admit returns true exactly once per id within the eviction window.
func (d *dedupSet) admit(id string) bool {
	if _, dup := d.seen[id]; dup {
		return false
	}
	if len(d.order) >= d.cap {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	return true
}
