// Package desktop hosts the lab in an ebiten window.
package desktop

import (
	"fmt"
	"image/color"
	"math"
	"sync/atomic"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font/basicfont"

	"projectilelab/server/internal/challenge"
	"projectilelab/server/internal/keymap"
	"projectilelab/server/internal/lab"
	"projectilelab/server/internal/logging"
	"projectilelab/server/internal/simulation"
	"projectilelab/server/internal/sound"
)

const (
	// repeatDelay and repeatEvery are in ticks; held arrows keep adjusting.
	repeatDelay = 20
	repeatEvery = 4
	lineHeight  = 16
)

var keyTable = map[ebiten.Key]keymap.Key{
	ebiten.KeyArrowUp:    keymap.KeyUp,
	ebiten.KeyArrowDown:  keymap.KeyDown,
	ebiten.KeyArrowLeft:  keymap.KeyLeft,
	ebiten.KeyArrowRight: keymap.KeyRight,
	ebiten.KeySpace:      keymap.KeySpace,
	ebiten.KeyM:          keymap.KeyM,
	ebiten.KeyN:          keymap.KeyN,
	ebiten.KeyD:          keymap.KeyD,
	ebiten.KeyW:          keymap.KeyW,
	ebiten.KeyQ:          keymap.KeyQ,
	ebiten.KeyR:          keymap.KeyR,
	ebiten.KeyF:          keymap.KeyF,
	ebiten.KeyC:          keymap.KeyC,
}

var repeating = map[ebiten.Key]bool{
	ebiten.KeyArrowUp:    true,
	ebiten.KeyArrowDown:  true,
	ebiten.KeyArrowLeft:  true,
	ebiten.KeyArrowRight: true,
}

var (
	textColor  = color.RGBA{R: 0xe9, G: 0xec, B: 0xef, A: 0xff}
	gridColor  = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0x14}
	panelColor = color.RGBA{R: 0x00, G: 0x00, B: 0x00, A: 0x80}
)

// Game drives a lab session from ebiten's update loop.
type Game struct {
	lab    *lab.Lab
	sounds *sound.Player
	log    *logging.Logger
	hits   atomic.Int64
	colors map[string]color.Color
	width  int
	height int
}

// NewGame wires hooks on a fresh lab. sounds may be nil.
func NewGame(cfg lab.Config, sounds *sound.Player, logger *logging.Logger) (*Game, error) {
	if logger == nil {
		logger = logging.L()
	}
	g := &Game{sounds: sounds, log: logger, colors: make(map[string]color.Color)}
	session, err := lab.New(cfg, lab.WithLogger(logger), lab.WithHooks(lab.Hooks{
		TargetHit: func(simulation.Target) {
			g.hits.Add(1)
			g.play(sound.CueTargetHit)
		},
		Landing:      func(simulation.Frame) { g.play(sound.CueLanding) },
		ChallengeEnd: func(challenge.Result) { g.play(sound.CueChallengeEnd) },
	}))
	if err != nil {
		return nil, err
	}
	g.lab = session
	scene := session.Drawable()
	g.width, g.height = int(scene.Width), int(scene.Height)
	return g, nil
}

// Close releases the lab session.
func (g *Game) Close() error {
	return g.lab.Close()
}

func (g *Game) play(cue sound.Cue) {
	if g.sounds != nil {
		g.sounds.Play(cue)
	}
}

// Update implements ebiten.Game.
func (g *Game) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	for ek, key := range keyTable {
		if !pressed(ek) {
			continue
		}
		cmd, ok := keymap.Resolve(key, g.lab.Parameters())
		if !ok {
			continue
		}
		snap, err := g.lab.Apply(cmd)
		if err != nil {
			g.log.Warn("command rejected", logging.String("command", cmd.Name), logging.Error(err))
			continue
		}
		if cmd.Name == lab.CommandToggleLaunch && snap.State.IsLaunched {
			g.play(sound.CueLaunch)
		}
	}
	//1.- One lab tick per ebiten tick keeps physics in step with the display.
	g.lab.Advance()
	return nil
}

func pressed(key ebiten.Key) bool {
	if inpututil.IsKeyJustPressed(key) {
		return true
	}
	if !repeating[key] {
		return false
	}
	held := inpututil.KeyPressDuration(key)
	return held > repeatDelay && (held-repeatDelay)%repeatEvery == 0
}

// Draw implements ebiten.Game.
func (g *Game) Draw(screen *ebiten.Image) {
	scene := g.lab.Drawable()
	snap := g.lab.Snapshot()
	screen.Fill(g.color(simulation.BackgroundColor))

	//1.- Grid with metre labels along the ground.
	if scene.GridSpacing > 0 {
		for x := 0.0; x <= scene.Width; x += scene.GridSpacing {
			vector.StrokeLine(screen, float32(x), 0, float32(x), float32(scene.GroundY), 1, gridColor, false)
			metres := (x - simulation.PadX) / simulation.PixelsPerMeter
			if metres >= 0 {
				text.Draw(screen, fmt.Sprintf("%.0fm", metres), basicfont.Face7x13, int(x)+2, int(scene.GroundY)+14, textColor)
			}
		}
		for y := scene.GroundY; y >= 0; y -= scene.GridSpacing {
			vector.StrokeLine(screen, 0, float32(y), float32(scene.Width), float32(y), 1, gridColor, false)
		}
	}
	vector.DrawFilledRect(screen, 0, float32(scene.GroundY), float32(scene.Width), float32(scene.Height-scene.GroundY), g.color(simulation.GroundColor), false)

	for _, streak := range scene.WindStreaks {
		dir := math.Copysign(1, scene.WindSpeed)
		vector.StrokeLine(screen, float32(streak.X), float32(streak.Y), float32(streak.X+dir*streak.Length), float32(streak.Y), 1, g.color(simulation.WindColor), true)
	}
	for _, path := range scene.History {
		g.polyline(screen, path, g.faded(simulation.HistoryColor))
	}
	g.polyline(screen, scene.Trail, g.color(simulation.TrailColor))

	target := scene.Target
	vector.StrokeCircle(screen, float32(target.X), float32(target.Y), float32(target.Radius), 2, g.color(simulation.TargetColor), true)
	if target.Hit {
		vector.DrawFilledCircle(screen, float32(target.X), float32(target.Y), float32(target.Radius/2), g.color(simulation.TargetColor), true)
	}
	for _, p := range scene.Impacts {
		c := g.color(p.Color)
		r, gr, b, _ := c.RGBA()
		alpha := uint8(255 * math.Max(0, math.Min(1, p.Life)))
		vector.DrawFilledCircle(screen, float32(p.X), float32(p.Y), 2, color.NRGBA{R: uint8(r >> 8), G: uint8(gr >> 8), B: uint8(b >> 8), A: alpha}, true)
	}
	ball := scene.Projectile
	vector.DrawFilledCircle(screen, float32(ball.Center.X), float32(ball.Center.Y), float32(ball.Radius), g.color(ball.Color), true)
	for _, arrow := range scene.Forces {
		c := g.color(arrow.Color)
		vector.StrokeLine(screen, float32(arrow.From.X), float32(arrow.From.Y), float32(arrow.To.X), float32(arrow.To.Y), 2, c, true)
		for _, barb := range arrow.Barbs {
			vector.StrokeLine(screen, float32(arrow.To.X), float32(arrow.To.Y), float32(barb.X), float32(barb.Y), 2, c, true)
		}
	}

	g.drawPanel(screen, snap)
}

func (g *Game) drawPanel(screen *ebiten.Image, snap lab.Snapshot) {
	st, ro := snap.State, snap.Readout
	lines := []string{
		fmt.Sprintf("Angle      %.0f°", st.Angle),
		fmt.Sprintf("Speed      %.1f m/s", st.LaunchSpeed),
		fmt.Sprintf("Mass       %.1f kg", st.Mass),
		fmt.Sprintf("Drag       %.1f", st.DragScale),
		fmt.Sprintf("Wind       %+.1f m/s", st.WindSpeed),
		"",
		fmt.Sprintf("Height     %.2f m", ro.MaxHeight),
		fmt.Sprintf("Range      %.2f m", ro.Range),
		fmt.Sprintf("Time       %.2f s", ro.TimeOfFlight),
		fmt.Sprintf("Speed now  %.2f m/s", ro.Speed),
		fmt.Sprintf("Energy     %.1f J", ro.TotalEnergy),
		fmt.Sprintf("Target     %.2f m", ro.TargetDistance),
		fmt.Sprintf("Hits       %d", g.hits.Load()),
	}
	if snap.Challenge.Active {
		lines = append(lines, fmt.Sprintf("Challenge  %d pts, %ds", snap.Challenge.Score, snap.Challenge.TimeRemaining))
	}
	lines = append(lines, "", "arrows/M/N/D/W/Q adjust", "space launch  R reset", "F vectors  C challenge")
	vector.DrawFilledRect(screen, 8, 8, 200, float32(len(lines)*lineHeight+12), panelColor, false)
	for i, line := range lines {
		text.Draw(screen, line, basicfont.Face7x13, 16, 24+i*lineHeight, textColor)
	}
}

func (g *Game) polyline(screen *ebiten.Image, points []simulation.Vec2, c color.Color) {
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		vector.StrokeLine(screen, float32(a.X), float32(a.Y), float32(b.X), float32(b.Y), 2, c, true)
	}
}

// color caches parsed hex colours; unknown strings draw white.
func (g *Game) color(hex string) color.Color {
	if c, ok := g.colors[hex]; ok {
		return c
	}
	var out color.Color = color.White
	if parsed, err := colorful.Hex(hex); err == nil {
		r, gr, b := parsed.RGB255()
		out = color.RGBA{R: r, G: gr, B: b, A: 0xff}
	} else {
		g.log.Debug("unparseable colour", logging.String("colour", hex))
	}
	g.colors[hex] = out
	return out
}

func (g *Game) faded(hex string) color.Color {
	r, gr, b, _ := g.color(hex).RGBA()
	return color.NRGBA{R: uint8(r >> 8), G: uint8(gr >> 8), B: uint8(b >> 8), A: 0x50}
}

// Layout implements ebiten.Game.
func (g *Game) Layout(int, int) (int, int) {
	return g.width, g.height
}
