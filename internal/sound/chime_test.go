package sound

import (
	"math"
	"testing"

	"github.com/gopxl/beep"

	"projectilelab/server/internal/logging"
)

func drain(t *testing.T, s beep.Streamer) (count int, peak float64) {
	t.Helper()
	buf := make([][2]float64, 512)
	for i := 0; i < 10000; i++ {
		n, ok := s.Stream(buf)
		for _, sample := range buf[:n] {
			peak = math.Max(peak, math.Max(math.Abs(sample[0]), math.Abs(sample[1])))
		}
		count += n
		if !ok {
			return count, peak
		}
	}
	t.Fatalf("chime never finished")
	return 0, 0
}

func TestChimesAreFiniteAndBounded(t *testing.T) {
	for _, cue := range []Cue{CueLaunch, CueTargetHit, CueLanding, CueChallengeEnd} {
		chime, err := Chime(cue, 0.5)
		if err != nil {
			t.Fatalf("%s: %v", cue, err)
		}
		want := 0
		for _, n := range cueNotes[cue] {
			want += SampleRate.N(n.duration)
		}
		count, peak := drain(t, chime)
		if count != want {
			t.Fatalf("%s: expected %d samples, got %d", cue, want, count)
		}
		if peak == 0 || peak > 0.5+1e-9 {
			t.Fatalf("%s: expected a peak in (0, 0.5], got %f", cue, peak)
		}
		if Duration(cue) <= 0 {
			t.Fatalf("%s: expected a positive duration", cue)
		}
	}
}

func TestMutedChimeIsSilent(t *testing.T) {
	chime, err := Chime(CueTargetHit, 0)
	if err != nil {
		t.Fatalf("chime: %v", err)
	}
	if _, peak := drain(t, chime); peak != 0 {
		t.Fatalf("expected silence, got peak %f", peak)
	}
}

func TestUnknownCue(t *testing.T) {
	if _, err := Chime(Cue(99), 1); err == nil {
		t.Fatalf("expected error for unknown cue")
	}
	if Duration(Cue(99)) != 0 {
		t.Fatalf("unknown cue should have no duration")
	}
	if Cue(99).String() != "cue(99)" {
		t.Fatalf("unexpected name %q", Cue(99).String())
	}
}

func TestEnvelopeRampsFromSilence(t *testing.T) {
	tone := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			samples[i] = [2]float64{1, 1}
		}
		return len(samples), true
	})
	env := newEnvelope(beep.Take(100, tone), 100, 10, 10)
	buf := make([][2]float64, 100)
	n, _ := env.Stream(buf)
	if n != 100 {
		t.Fatalf("expected 100 samples, got %d", n)
	}
	if buf[0][0] != 0 || buf[50][0] != 1 || buf[99][0] >= 0.2 {
		t.Fatalf("unexpected envelope shape: start=%f mid=%f end=%f", buf[0][0], buf[50][0], buf[99][0])
	}
}

func TestPlayerIsInertBeforeInit(t *testing.T) {
	player := NewPlayer(1, logging.NewTestLogger())
	player.Play(CueLanding)
	player.SetMuted(true)
	if !player.Muted() {
		t.Fatalf("expected player to report muted")
	}
	player.Close()
}
