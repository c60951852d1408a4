package simulation

import "math"

const (
	windParticleCount = 50
	// windVisibleThreshold hides the wind field for near-calm settings.
	windVisibleThreshold = 0.1

	impactBurstSize   = 16
	impactParticleCap = 200
	impactDecay       = 0.02
	impactGravity     = 0.1 // px/frame²

	groundBurstColor = "#e9c46a"
	targetBurstColor = "#ff4d6d"
)

// WindParticle is a decorative streak drifting with the wind.
type WindParticle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Length float64 `json:"length"`
	Speed  float64 `json:"speed"`
}

// ImpactParticle is a short-lived spark emitted on ground or target impact.
type ImpactParticle struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	VX    float64 `json:"vx"`
	VY    float64 `json:"vy"`
	Life  float64 `json:"life"`
	Color string  `json:"color"`
}

func newWindField(r Random, width, groundY float64) []WindParticle {
	particles := make([]WindParticle, windParticleCount)
	for i := range particles {
		particles[i] = WindParticle{
			X:      r.Float64() * width,
			Y:      r.Float64() * groundY,
			Length: r.Float64()*20 + 10,
			Speed:  r.Float64()*2 + 1,
		}
	}
	return particles
}

// AdvanceVisuals moves the decorative particles by one display frame. It never
// touches the physical state.
func (e *Engine) AdvanceVisuals() error {
	if err := e.usable(); err != nil {
		return err
	}
	//1.- Drift the wind streaks and wrap them around the opposite edge.
	base := e.state.WindSpeed * 2
	for i := range e.wind {
		p := &e.wind[i]
		p.X += base * p.Speed
		if base > 0 && p.X > e.width {
			p.X = -p.Length
			p.Y = e.rng.Float64() * e.groundY
		} else if base < 0 && p.X < -p.Length {
			p.X = e.width + p.Length
			p.Y = e.rng.Float64() * e.groundY
		}
	}
	//2.- Age impact sparks and drop the expired ones in place.
	alive := e.impacts[:0]
	for _, p := range e.impacts {
		p.X += p.VX
		p.Y += p.VY
		p.VY += impactGravity
		p.Life -= impactDecay
		if p.Life > 0 {
			alive = append(alive, p)
		}
	}
	e.impacts = alive
	if base != 0 || len(e.impacts) > 0 {
		e.touch()
	}
	return nil
}

func (e *Engine) spawnImpact(x, y float64, color string) {
	for i := 0; i < impactBurstSize; i++ {
		e.impacts = append(e.impacts, ImpactParticle{
			X:     x,
			Y:     y,
			VX:    (e.rng.Float64() - 0.5) * 4,
			VY:    -e.rng.Float64() * 3,
			Life:  1,
			Color: color,
		})
	}
	if overflow := len(e.impacts) - impactParticleCap; overflow > 0 {
		e.impacts = append([]ImpactParticle(nil), e.impacts[overflow:]...)
	}
}

func (e *Engine) newTarget() Target {
	return Target{
		X:      uniform(e.rng, targetEdgeMargin, e.width-targetEdgeMargin),
		Y:      uniform(e.rng, e.height/4, e.height-targetEdgeMargin),
		Radius: TargetRadius,
	}
}

func windVisible(speed float64) bool {
	return math.Abs(speed) >= windVisibleThreshold
}
