package sound

import (
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"

	"projectilelab/server/internal/logging"
)

// Player mixes chimes onto the system speaker. The zero value is not usable;
// construct one with NewPlayer.
type Player struct {
	mu          sync.Mutex
	mixer       *beep.Mixer
	volume      float64
	log         *logging.Logger
	initialized bool
	muted       bool
}

// NewPlayer builds a player at volume in [0, 1].
func NewPlayer(volume float64, logger *logging.Logger) *Player {
	if logger == nil {
		logger = logging.L()
	}
	return &Player{mixer: &beep.Mixer{}, volume: volume, log: logger}
}

// Init opens the speaker. Hosts without an audio device keep running muted.
func (p *Player) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}
	if err := speaker.Init(SampleRate, SampleRate.N(100*time.Millisecond)); err != nil {
		return err
	}
	speaker.Play(p.mixer)
	p.initialized = true
	return nil
}

// SetMuted silences or restores playback.
func (p *Player) SetMuted(muted bool) {
	p.mu.Lock()
	p.muted = muted
	p.mu.Unlock()
}

// Muted reports whether playback is silenced.
func (p *Player) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// Play queues the chime for cue. It is a no-op before Init or while muted.
func (p *Player) Play(cue Cue) {
	p.mu.Lock()
	ready := p.initialized && !p.muted
	p.mu.Unlock()
	if !ready {
		return
	}
	chime, err := Chime(cue, p.volume)
	if err != nil {
		p.log.Warn("chime unavailable", logging.String("cue", cue.String()), logging.Error(err))
		return
	}
	//1.- The mixer is read on the speaker goroutine, so mutate it under the speaker lock.
	speaker.Lock()
	p.mixer.Add(chime)
	speaker.Unlock()
}

// Close stops all chimes and releases the speaker.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return
	}
	speaker.Lock()
	p.mixer.Clear()
	speaker.Unlock()
	speaker.Close()
	p.initialized = false
}
