package mission

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"agrolink/internal/link"
	"agrolink/internal/mavlink"
	"agrolink/internal/model"
)

var testWaypoints = []model.Waypoint{
	{Lat: 23.2950, Lon: 85.3100, Alt: 15},
	{Lat: 23.2955, Lon: 85.3105, Alt: 15},
	{Lat: 23.2960, Lon: 85.3110, Alt: 15},
	{Lat: 23.2965, Lon: 85.3115, Alt: 15},
}

func TestExpandSequence(t *testing.T) {
	items := Expand(testWaypoints, 1, 1)
	if len(items) != len(testWaypoints)+3 {
		t.Fatalf("expanded to %d items, want %d", len(items), len(testWaypoints)+3)
	}

	first := items[0]
	if first.Command != mavlink.CmdNavWaypoint {
		t.Errorf("item 0 command %d, want nav waypoint", first.Command)
	}
	if first.X != int32(23.295*1e7) || first.Y != int32(85.31*1e7) {
		t.Errorf("item 0 must target the first survey point, got %d/%d", first.X, first.Y)
	}
	if first.Z != transitAltitude {
		t.Errorf("item 0 altitude %v, want transit altitude %d", first.Z, transitAltitude)
	}

	takeoff := items[1]
	if takeoff.Command != mavlink.CmdNavTakeoff {
		t.Errorf("item 1 command %d, want takeoff", takeoff.Command)
	}
	if takeoff.X == 0 || takeoff.Y == 0 {
		t.Error("takeoff item must carry real coordinates")
	}
	if takeoff.Z != 15 {
		t.Errorf("takeoff altitude %v, want survey altitude 15", takeoff.Z)
	}

	for i, wp := range testWaypoints {
		item := items[i+2]
		if item.Command != mavlink.CmdNavWaypoint {
			t.Errorf("item %d command %d, want nav waypoint", i+2, item.Command)
		}
		if item.X != int32(wp.Lat*1e7) || item.Y != int32(wp.Lon*1e7) {
			t.Errorf("item %d position %d/%d, want %v/%v", i+2, item.X, item.Y, wp.Lat, wp.Lon)
		}
	}

	last := items[len(items)-1]
	if last.Command != mavlink.CmdNavReturnToLaunch {
		t.Errorf("last command %d, want RTL", last.Command)
	}
	for i, item := range items {
		if int(item.Seq) != i {
			t.Errorf("item %d carries seq %d", i, item.Seq)
		}
		if item.Frame != mavlink.FrameGlobalRelativeAltInt {
			t.Errorf("item %d frame %d, want relative-alt int", i, item.Frame)
		}
	}
}

func TestExpandDefaultSurveyAltitude(t *testing.T) {
	items := Expand([]model.Waypoint{{Lat: 1, Lon: 2}}, 1, 1)
	if items[1].Z != defaultSurveyAltitude {
		t.Errorf("takeoff altitude %v, want default %d", items[1].Z, defaultSurveyAltitude)
	}
}

func TestUploadEmptyMission(t *testing.T) {
	u := NewUploader(time.Second)
	l := link.New(1, link.Options{})
	if _, err := u.Upload(context.Background(), l, nil, nil); !errors.Is(err, ErrEmptyMission) {
		t.Fatalf("err = %v, want ErrEmptyMission", err)
	}
}

// blackhole swallows writes and never produces frames, so an upload against it
// stalls until the retransmit budget runs out.
type blackhole struct {
	once sync.Once
	done chan struct{}
}

func newBlackhole() *blackhole { return &blackhole{done: make(chan struct{})} }

func (b *blackhole) Read(p []byte) (int, error) {
	<-b.done
	return 0, io.EOF
}
func (b *blackhole) Write(p []byte) (int, error) { return len(p), nil }
func (b *blackhole) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}

func TestUploadTimeoutAndExclusivity(t *testing.T) {
	u := NewUploader(30 * time.Millisecond)
	l := link.New(1, link.Options{})
	if err := l.Open(newBlackhole()); err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := u.Upload(context.Background(), l, testWaypoints, nil)
		errc <- err
	}()

	// The first transfer holds the slot; a second must fail immediately.
	time.Sleep(10 * time.Millisecond)
	if _, err := u.Upload(context.Background(), l, testWaypoints, nil); !errors.Is(err, ErrUploadInProgress) {
		t.Fatalf("overlapping upload err = %v, want ErrUploadInProgress", err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, ErrUploadTimeout) {
			t.Fatalf("stalled upload err = %v, want ErrUploadTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stalled upload never returned")
	}

	// The slot must be released after failure.
	if _, err := u.Upload(context.Background(), l, nil, nil); !errors.Is(err, ErrEmptyMission) {
		t.Fatalf("slot not released: %v", err)
	}
}

func TestUploadHandshakeAgainstSimulator(t *testing.T) {
	sim := link.NewSimTransport(1)
	l := link.New(1, link.Options{HeartbeatInterval: 100 * time.Millisecond})
	if err := l.Open(sim); err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	u := NewUploader(2 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var sent []int
	total, err := u.Upload(ctx, l, testWaypoints, func(n, tot int) { sent = append(sent, n) })
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if total != len(testWaypoints)+3 {
		t.Fatalf("uploaded %d items, want %d", total, len(testWaypoints)+3)
	}
	if len(sent) != total {
		t.Errorf("progress reported %d items, want %d", len(sent), total)
	}
}
