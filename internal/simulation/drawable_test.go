package simulation

import (
	"math"
	"testing"
)

func TestWindStreaksFollowVisibilityThreshold(t *testing.T) {
	engine := newTestEngine(t)
	if got := len(engine.Drawable().WindStreaks); got != 0 {
		t.Fatalf("calm air should hide streaks, got %d", got)
	}
	if err := engine.SetWindSpeed(0.05); err != nil {
		t.Fatalf("set wind: %v", err)
	}
	if got := len(engine.Drawable().WindStreaks); got != 0 {
		t.Fatalf("near-calm air should hide streaks, got %d", got)
	}
	if err := engine.SetWindSpeed(5); err != nil {
		t.Fatalf("set wind: %v", err)
	}
	streaks := engine.Drawable().WindStreaks
	if len(streaks) != windParticleCount {
		t.Fatalf("expected %d streaks, got %d", windParticleCount, len(streaks))
	}
	for _, p := range streaks {
		if p.X < 0 || p.X >= 800 || p.Y < 0 || p.Y >= 550 || p.Length < 10 || p.Length > 30 || p.Speed < 1 || p.Speed > 3 {
			t.Fatalf("streak outside seeding bounds: %+v", p)
		}
	}
}

func TestWindStreaksWrapAroundEdges(t *testing.T) {
	engine := newTestEngine(t)
	if err := engine.SetWindSpeed(5); err != nil {
		t.Fatalf("set wind: %v", err)
	}
	//1.- A streak leaving the right edge re-enters on the left.
	engine.wind[0].X = 799.9
	engine.wind[0].Speed = 1
	if err := engine.AdvanceVisuals(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if engine.wind[0].X != -engine.wind[0].Length {
		t.Fatalf("expected wrap to -length, got %v", engine.wind[0].X)
	}

	//2.- Headwind pushes streaks off the left edge and back in on the right.
	if err := engine.SetWindSpeed(-5); err != nil {
		t.Fatalf("set wind: %v", err)
	}
	engine.wind[1].X = -engine.wind[1].Length + 0.1
	engine.wind[1].Speed = 1
	if err := engine.AdvanceVisuals(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if engine.wind[1].X != 800+engine.wind[1].Length {
		t.Fatalf("expected wrap to width+length, got %v", engine.wind[1].X)
	}
}

func TestImpactParticlesDecay(t *testing.T) {
	engine := newTestEngine(t)
	if err := engine.SetAngle(0); err != nil {
		t.Fatalf("set angle: %v", err)
	}
	fly(t, engine)
	impacts := engine.Drawable().Impacts
	if len(impacts) != impactBurstSize {
		t.Fatalf("expected one ground burst, got %d", len(impacts))
	}
	for _, p := range impacts {
		if p.Color != groundBurstColor || p.Life != 1 || p.VX < -2 || p.VX > 2 || p.VY > 0 || p.VY < -3 {
			t.Fatalf("unexpected spark %+v", p)
		}
	}
	for i := 0; i < 60; i++ {
		if err := engine.AdvanceVisuals(); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	if got := len(engine.Drawable().Impacts); got != 0 {
		t.Fatalf("expected sparks to expire, %d left", got)
	}
}

func TestImpactParticlesAreCapped(t *testing.T) {
	engine := newTestEngine(t)
	for i := 0; i < 20; i++ {
		engine.spawnImpact(100, 100, groundBurstColor)
	}
	if got := len(engine.impacts); got != impactParticleCap {
		t.Fatalf("expected cap %d, got %d", impactParticleCap, got)
	}
}

func TestForceArrows(t *testing.T) {
	engine := newTestEngine(t)
	if err := engine.SetWindSpeed(2); err != nil {
		t.Fatalf("set wind: %v", err)
	}
	if err := engine.SetAirResistance(0.5); err != nil {
		t.Fatalf("set drag: %v", err)
	}
	if got := len(engine.Drawable().Forces); got != 0 {
		t.Fatalf("vectors hidden by default, got %d", got)
	}
	if err := engine.SetShowForceVectors(true); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	//1.- At rest there is no drag arrow.
	kinds := map[ForceKind]Arrow{}
	for _, arrow := range engine.Drawable().Forces {
		kinds[arrow.Kind] = arrow
	}
	if _, ok := kinds[ForceDrag]; ok || len(kinds) != 2 {
		t.Fatalf("expected gravity and wind only, got %+v", kinds)
	}

	//2.- In flight drag opposes the motion in screen space.
	if err := engine.Launch(); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if _, err := engine.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	kinds = map[ForceKind]Arrow{}
	for _, arrow := range engine.Drawable().Forces {
		kinds[arrow.Kind] = arrow
	}
	gravity, drag, wind := kinds[ForceGravity], kinds[ForceDrag], kinds[ForceWind]
	if !(gravity.To.Y > gravity.From.Y) || gravity.Color != GravityVectorColor {
		t.Fatalf("gravity should point down: %+v", gravity)
	}
	if !(drag.To.X < drag.From.X) || !(drag.To.Y > drag.From.Y) {
		t.Fatalf("drag should oppose an up-right flight: %+v", drag)
	}
	if math.Abs(wind.To.X-wind.From.X-40) > 1e-9 || wind.To.Y != wind.From.Y {
		t.Fatalf("unexpected wind arrow %+v", wind)
	}
}

func TestNewArrowBarbs(t *testing.T) {
	arrow := NewArrow(ForceWind, Vec2{}, Vec2{X: 100}, WindVectorColor)
	want := 100 - 10*math.Cos(math.Pi/6)
	for i, barb := range arrow.Barbs {
		if math.Abs(barb.X-want) > 1e-9 || math.Abs(math.Abs(barb.Y)-5) > 1e-9 {
			t.Fatalf("unexpected barb %d: %+v", i, barb)
		}
	}
	if arrow.Barbs[0].Y != -arrow.Barbs[1].Y {
		t.Fatalf("barbs should mirror each other")
	}
}

func TestProjectileRadiusScalesWithMass(t *testing.T) {
	if r := ProjectileRadius(8); math.Abs(r-10) > 1e-9 {
		t.Fatalf("expected radius 10 for 8 kg, got %v", r)
	}
	if r := ProjectileRadius(0); r != 0 {
		t.Fatalf("expected zero radius, got %v", r)
	}
}
