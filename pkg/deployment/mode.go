package deployment

import (
	"time"

	"github.com/pkg/errors"
)

// Mode selects which raw telemetry a processing run consumes: the truncated
// pairs relayed over Iridium while the glider is at sea, or the full
// resolution logs pulled off the flash card after recovery.
type Mode string

const (
	// Realtime processes the truncated sbd/tbd pairs as they arrive.
	Realtime Mode = "realtime"

	// Delayed processes the full dbd/ebd logs recovered with the glider.
	Delayed Mode = "delayed"
)

// ParseMode converts a string into a Mode, erroring on anything else.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Realtime:
		return Realtime, nil
	case Delayed:
		return Delayed, nil
	}
	return "", errors.Errorf("unknown mode '%s': must be realtime or delayed", s)
}

// Dir returns the directory name under the deployment root that holds this
// mode's artefacts.
func (m Mode) Dir() string {
	if m == Realtime {
		return "Realtime"
	}
	return "Delayed"
}

// FlightGlob returns the filename glob matching this mode's flight computer
// (engineering) logs.
func (m Mode) FlightGlob() string {
	if m == Realtime {
		return "*.sbd"
	}
	return "*.dbd"
}

// ScienceGlob returns the filename glob matching this mode's science bay
// logs.
func (m Mode) ScienceGlob() string {
	if m == Realtime {
		return "*.tbd"
	}
	return "*.ebd"
}

// ProfileFilterWindow is the width of the smoothing window applied to the
// depth signal before looking for direction reversals. Realtime data is
// decimated so a much shorter window suffices.
func (m Mode) ProfileFilterWindow() time.Duration {
	if m == Realtime {
		return 20 * time.Second
	}
	return 100 * time.Second
}

// ProfileMinDuration is the shortest depth excursion that counts as a
// profile; anything quicker is surface noise or a stalled climb.
func (m Mode) ProfileMinDuration() time.Duration {
	if m == Realtime {
		return 60 * time.Second
	}
	return 300 * time.Second
}

// JoinWindow is how far the merge will reach when interpolating a flight
// channel onto a science timestamp. Full resolution logs sample fast enough
// that a narrow window catches a real neighbour; realtime data needs more
// slack.
func (m Mode) JoinWindow() time.Duration {
	if m == Realtime {
		return 30 * time.Second
	}
	return 10 * time.Second
}
