// Package sound synthesises the short chimes the interactive hosts play on lab
// notifications. Streams are generated on the fly; no audio assets are shipped.
package sound

import (
	"fmt"
	"math"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/generators"
)

// SampleRate is the rate every chime is rendered at.
const SampleRate = beep.SampleRate(44100)

// Cue names a lab notification that has an audible chime.
type Cue int

const (
	CueLaunch Cue = iota
	CueTargetHit
	CueLanding
	CueChallengeEnd
)

// String implements fmt.Stringer.
func (c Cue) String() string {
	switch c {
	case CueLaunch:
		return "launch"
	case CueTargetHit:
		return "target_hit"
	case CueLanding:
		return "landing"
	case CueChallengeEnd:
		return "challenge_end"
	}
	return fmt.Sprintf("cue(%d)", int(c))
}

type note struct {
	freq     float64
	duration time.Duration
}

// cueNotes holds the melody of each cue; notes play back to back.
var cueNotes = map[Cue][]note{
	CueLaunch:       {{freq: 392.00, duration: 60 * time.Millisecond}},
	CueTargetHit:    {{freq: 880.00, duration: 90 * time.Millisecond}, {freq: 1318.51, duration: 160 * time.Millisecond}},
	CueLanding:      {{freq: 110.00, duration: 120 * time.Millisecond}},
	CueChallengeEnd: {{freq: 523.25, duration: 120 * time.Millisecond}, {freq: 659.25, duration: 120 * time.Millisecond}, {freq: 783.99, duration: 240 * time.Millisecond}},
}

const (
	attack  = 5 * time.Millisecond
	release = 40 * time.Millisecond
)

// Duration reports how long the chime for cue lasts, or zero for unknown cues.
func Duration(cue Cue) time.Duration {
	var total time.Duration
	for _, n := range cueNotes[cue] {
		total += n.duration
	}
	return total
}

// Chime renders the streamer for cue at the given volume in [0, 1].
func Chime(cue Cue, volume float64) (beep.Streamer, error) {
	notes, ok := cueNotes[cue]
	if !ok {
		return nil, fmt.Errorf("sound: unknown cue %v", cue)
	}
	parts := make([]beep.Streamer, 0, len(notes))
	for _, n := range notes {
		tone, err := generators.SineTone(SampleRate, n.freq)
		if err != nil {
			return nil, fmt.Errorf("sound: %s tone: %w", cue, err)
		}
		samples := SampleRate.N(n.duration)
		parts = append(parts, newEnvelope(beep.Take(samples, tone), samples, SampleRate.N(attack), SampleRate.N(release)))
	}
	return withVolume(beep.Seq(parts...), volume), nil
}

// envelope applies a linear attack and release to a finite stream.
type envelope struct {
	streamer beep.Streamer
	position int
	total    int
	attack   int
	release  int
}

func newEnvelope(s beep.Streamer, total, attack, release int) beep.Streamer {
	if attack+release > total {
		attack, release = total/2, total/2
	}
	return &envelope{streamer: s, total: total, attack: attack, release: release}
}

func (e *envelope) Stream(samples [][2]float64) (int, bool) {
	n, ok := e.streamer.Stream(samples)
	for i := 0; i < n; i++ {
		gain := 1.0
		if e.attack > 0 && e.position < e.attack {
			gain = float64(e.position) / float64(e.attack)
		}
		if remaining := e.total - e.position; e.release > 0 && remaining < e.release {
			gain = math.Min(gain, float64(remaining)/float64(e.release))
		}
		samples[i][0] *= gain
		samples[i][1] *= gain
		e.position++
	}
	return n, ok
}

func (e *envelope) Err() error { return e.streamer.Err() }

// withVolume scales s linearly; beep expresses volume as a power of Base.
func withVolume(s beep.Streamer, volume float64) beep.Streamer {
	if volume <= 0 {
		return &effects.Volume{Streamer: s, Base: 2, Silent: true}
	}
	return &effects.Volume{Streamer: s, Base: 2, Volume: math.Log2(math.Min(volume, 1))}
}
