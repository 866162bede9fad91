package decoder

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/adeverne/kiwiglider/pkg/deployment"
)

// ErrNoRawData is returned by DecodeDir when the raw directory exists but
// holds no files matching the mode's globs. Realtime callers treat this as a
// quiet surfacing and do nothing; delayed callers treat it as fatal, since a
// recovered glider with no logs means the copy never happened.
var ErrNoRawData = errors.New("no raw data files found")

// Kind says which half of the glider produced a stream.
type Kind string

const (
	// Flight marks engineering telemetry from the flight computer.
	Flight Kind = "flight"

	// Science marks measurements from the science bay.
	Science Kind = "science"
)

// Reading is a single decoded sample: one raw channel's value at one moment.
// Time is seconds since the Unix epoch, which is the glider's native clock.
type Reading struct {
	Time    float64
	Channel string
	Value   float64
}

// Stream holds every reading decoded from one half of the telemetry, in
// decode order: file order first (Slocum file names encode the mission
// segment sequence), line order within a file. Later readings therefore
// supersede earlier ones wherever timestamps collide.
type Stream struct {
	Kind     Kind
	Readings []Reading
	Units    map[string]string
	Files    int
}

// Channels returns the sorted set of raw channel names present in the stream.
func (s *Stream) Channels() []string {
	seen := map[string]bool{}
	for _, r := range s.Readings {
		seen[r.Channel] = true
	}

	channels := make([]string, 0, len(seen))
	for name := range seen {
		channels = append(channels, name)
	}
	sort.Strings(channels)
	return channels
}

// RawData is the result of decoding a deployment's raw directory for one
// mode.
type RawData struct {
	Flight  Stream
	Science Stream
}

// Empty reports whether decoding produced no readings at all.
func (r *RawData) Empty() bool {
	return len(r.Flight.Readings) == 0 && len(r.Science.Readings) == 0
}

// Channels returns the sorted union of raw channel names across both streams.
func (r *RawData) Channels() []string {
	seen := map[string]bool{}
	for _, reading := range r.Flight.Readings {
		seen[reading.Channel] = true
	}
	for _, reading := range r.Science.Readings {
		seen[reading.Channel] = true
	}

	channels := make([]string, 0, len(seen))
	for name := range seen {
		channels = append(channels, name)
	}
	sort.Strings(channels)
	return channels
}

// Decoder is the interface the pipeline uses to turn a directory of raw
// binary logs into readings. The only real implementation shells out to an
// installed decoder command; tests substitute a mock.
type Decoder interface {
	DecodeDir(ctx context.Context, dir string, mode deployment.Mode) (*RawData, error)
}
