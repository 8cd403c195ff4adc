package payload

import (
	"testing"
	"time"

	"agrolink/internal/model"
)

type capture struct {
	detections []model.DetectionEvent
	stats      []model.DetectionStats
	images     []model.ImageCaptured
	piStats    []model.PiStats
	plain      []string
}

func newCaptureParser(dedupSize int) (*Parser, *capture) {
	sink := &capture{}
	p := NewParser(dedupSize)
	p.OnDetection = func(ev model.DetectionEvent) { sink.detections = append(sink.detections, ev) }
	p.OnStats = func(s model.DetectionStats) { sink.stats = append(sink.stats, s) }
	p.OnImage = func(img model.ImageCaptured) { sink.images = append(sink.images, img) }
	p.OnPiStats = func(s model.PiStats) { sink.piStats = append(sink.piStats, s) }
	p.OnPlain = func(_ int, rec model.StatusRecord) { sink.plain = append(sink.plain, rec.Text) }
	return p, sink
}

func scan(p *Parser, vehicleID int, text string) {
	p.Scan(vehicleID, model.StatusRecord{Severity: 6, Text: text, Timestamp: time.Now()})
}

func TestScanDetection(t *testing.T) {
	p, sink := newCaptureParser(10)
	scan(p, 1, "DET|ab12|23.295000|85.310000|0.91|1732")

	if len(sink.detections) != 1 {
		t.Fatalf("detections = %d, want 1", len(sink.detections))
	}
	ev := sink.detections[0]
	if ev.DetectionID != "ab12" || ev.Latitude != 23.295 || ev.Longitude != 85.31 ||
		ev.Confidence != 0.91 || ev.Area != 1732 || ev.VehicleID != 1 {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.Source != DetectionSource {
		t.Errorf("source %q, want %q", ev.Source, DetectionSource)
	}
	if len(sink.plain) != 0 {
		t.Errorf("tagged record leaked as plain status: %v", sink.plain)
	}
}

func TestScanDedup(t *testing.T) {
	p, sink := newCaptureParser(10)
	scan(p, 1, "DET|ab12|23.295000|85.310000|0.91|1732")
	scan(p, 1, "DET|ab12|23.295000|85.310000|0.91|1732")
	if len(sink.detections) != 1 {
		t.Fatalf("re-arrival produced %d events, want 1", len(sink.detections))
	}
}

func TestScanTags(t *testing.T) {
	p, sink := newCaptureParser(10)
	scan(p, 2, "DSTAT|14|3|mission-7")
	scan(p, 2, "IMG|img9|23.29|85.31|rgb|mission-7")
	scan(p, 2, "STAT|41.5|62.0|80.1|55.2")

	if len(sink.stats) != 1 {
		t.Fatalf("stats = %d, want 1", len(sink.stats))
	}
	s := sink.stats[0]
	if s.Total != 14 || s.Active != 3 || s.MissionID != "mission-7" || s.VehicleID != 2 {
		t.Errorf("unexpected stats %+v", s)
	}

	if len(sink.images) != 1 {
		t.Fatalf("images = %d, want 1", len(sink.images))
	}
	img := sink.images[0]
	if img.ImageID != "img9" || img.ImageType != "rgb" || img.MissionID != "mission-7" {
		t.Errorf("unexpected image %+v", img)
	}

	if len(sink.piStats) != 1 {
		t.Fatalf("pi stats = %d, want 1", len(sink.piStats))
	}
	pi := sink.piStats[0]
	if pi.CPUPercent != 41.5 || pi.MemPercent != 62.0 || pi.DiskPercent != 80.1 || pi.TempC != 55.2 {
		t.Errorf("unexpected pi stats %+v", pi)
	}
}

func TestScanMalformedDropped(t *testing.T) {
	p, sink := newCaptureParser(10)
	for _, text := range []string{
		"DET|ab12|23.29|85.31|0.91", // missing area
		"DET||1|2|3|4",              // empty id
		"DET|x|bad|85.31|0.9|10",    // bad latitude
		"DSTAT|x|3|m",               // bad total
		"STAT|1|2|3",                // missing temp
	} {
		scan(p, 1, text)
	}
	if len(sink.detections)+len(sink.stats)+len(sink.piStats) != 0 {
		t.Errorf("malformed records produced events: %+v", sink)
	}
	if len(sink.plain) != 0 {
		t.Errorf("malformed tagged records fell through as plain: %v", sink.plain)
	}
}

func TestScanPlainFallthrough(t *testing.T) {
	p, sink := newCaptureParser(10)
	scan(p, 1, "PreArm: Gyros not calibrated")
	scan(p, 1, "EKF2|variance") // unknown tag
	if len(sink.plain) != 2 {
		t.Fatalf("plain = %d, want 2: %v", len(sink.plain), sink.plain)
	}
}

func TestDedupFIFOEviction(t *testing.T) {
	p, sink := newCaptureParser(2)
	scan(p, 1, "DET|a|1|2|0.9|10")
	scan(p, 1, "DET|b|1|2|0.9|10")
	scan(p, 1, "DET|c|1|2|0.9|10") // evicts a
	scan(p, 1, "DET|b|1|2|0.9|10") // still suppressed
	scan(p, 1, "DET|a|1|2|0.9|10") // re-admitted after eviction
	ids := make([]string, 0, len(sink.detections))
	for _, ev := range sink.detections {
		ids = append(ids, ev.DetectionID)
	}
	want := []string{"a", "b", "c", "a"}
	if len(ids) != len(want) {
		t.Fatalf("got ids %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got ids %v, want %v", ids, want)
		}
	}
}
