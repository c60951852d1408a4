// Package terminal draws the lab into a character-cell screen.
package terminal

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/gdamore/tcell/v2"

	"projectilelab/server/internal/keymap"
	"projectilelab/server/internal/lab"
	"projectilelab/server/internal/simulation"
)

// panelRows is the number of text rows reserved below the scene.
const panelRows = 3

var (
	styleBase       = tcell.StyleDefault.Background(tcell.GetColor("#1a1a2e")).Foreground(tcell.ColorWhite)
	styleGround     = styleBase.Foreground(tcell.GetColor("#16213e")).Background(tcell.GetColor("#16213e"))
	styleProjectile = styleBase.Foreground(tcell.GetColor("#4895ef")).Bold(true)
	styleTrail      = styleBase.Foreground(tcell.GetColor("#ff4d6d"))
	styleTarget     = styleBase.Foreground(tcell.GetColor("#ff4d6d")).Bold(true)
	styleGhost      = styleBase.Foreground(tcell.ColorGray)
	styleWind       = styleBase.Foreground(tcell.ColorSilver)
	styleImpact     = styleBase.Foreground(tcell.GetColor("#e9c46a"))
	styleForce      = styleBase.Foreground(tcell.ColorLime)
	styleLabel      = styleBase.Foreground(tcell.ColorGray)
	styleHit        = styleBase.Foreground(tcell.GetColor("#ff4d6d")).Bold(true)
)

// View projects the lab's drawable scene onto a tcell screen.
type View struct {
	screen tcell.Screen
	hits   atomic.Int64
}

// NewView wraps an initialised screen.
func NewView(screen tcell.Screen) *View {
	return &View{screen: screen}
}

// AddHit bumps the on-screen target-hit counter.
func (v *View) AddHit() {
	v.hits.Add(1)
}

// Hits returns the number of targets hit since the view was created.
func (v *View) Hits() int64 {
	return v.hits.Load()
}

// Draw renders one frame and shows it.
func (v *View) Draw(scene simulation.Drawable, snap lab.Snapshot) {
	s := v.screen
	s.SetStyle(styleBase)
	s.Clear()
	cols, rows := s.Size()
	sceneRows := rows - panelRows
	if cols <= 0 || sceneRows <= 0 || scene.Width <= 0 || scene.Height <= 0 {
		s.Show()
		return
	}
	proj := projection{sx: float64(cols) / scene.Width, sy: float64(sceneRows) / scene.Height, cols: cols, rows: sceneRows}

	//1.- Ground band first so everything else lands on top of it.
	_, groundRow := proj.cell(simulation.Vec2{Y: scene.GroundY})
	for y := groundRow; y < sceneRows; y++ {
		for x := 0; x < cols; x++ {
			s.SetContent(x, y, '▒', nil, styleGround)
		}
	}
	for _, streak := range scene.WindStreaks {
		proj.put(s, simulation.Vec2{X: streak.X, Y: streak.Y}, '~', styleWind)
	}
	for _, path := range scene.History {
		for _, p := range path {
			proj.put(s, p, '·', styleGhost)
		}
	}
	for _, p := range scene.Trail {
		proj.put(s, p, '.', styleTrail)
	}
	target := 'O'
	if scene.Target.Hit {
		target = 'X'
	}
	proj.put(s, simulation.Vec2{X: scene.Target.X, Y: scene.Target.Y}, target, styleTarget)
	for _, impact := range scene.Impacts {
		proj.put(s, simulation.Vec2{X: impact.X, Y: impact.Y}, '*', styleImpact)
	}
	for _, arrow := range scene.Forces {
		proj.put(s, arrow.To, arrowRune(arrow), styleForce)
	}
	proj.put(s, scene.Projectile.Center, '●', styleProjectile)

	//2.- Status panel under the scene.
	st := snap.State
	ro := snap.Readout
	v.text(0, sceneRows, styleLabel, fmt.Sprintf("angle %.0f°  speed %.1f m/s  mass %.1f kg  drag %.1f  wind %+.1f m/s  vectors %s",
		st.Angle, st.LaunchSpeed, st.Mass, st.DragScale, st.WindSpeed, onOff(st.ShowForceVectors)))
	v.text(0, sceneRows+1, styleLabel, fmt.Sprintf("height %.2f m  range %.2f m  time %.2f s  speed %.2f m/s  target %.2f m",
		ro.MaxHeight, ro.Range, ro.TimeOfFlight, ro.Speed, ro.TargetDistance))
	status := fmt.Sprintf("hits %d", v.Hits())
	if snap.Challenge.Active {
		status += fmt.Sprintf("  CHALLENGE score %d  %ds left", snap.Challenge.Score, snap.Challenge.TimeRemaining)
	}
	status += "  [space] launch  [r] reset  [esc] quit"
	v.text(0, sceneRows+2, styleHit, status)
	s.Show()
}

func (v *View) text(x, y int, style tcell.Style, line string) {
	for _, r := range line {
		v.screen.SetContent(x, y, r, nil, style)
		x++
	}
}

type projection struct {
	sx, sy     float64
	cols, rows int
}

func (p projection) cell(pos simulation.Vec2) (int, int) {
	return int(math.Floor(pos.X * p.sx)), int(math.Floor(pos.Y * p.sy))
}

func (p projection) put(s tcell.Screen, pos simulation.Vec2, r rune, style tcell.Style) {
	if !pos.Finite() {
		return
	}
	x, y := p.cell(pos)
	if x < 0 || y < 0 || x >= p.cols || y >= p.rows {
		return
	}
	s.SetContent(x, y, r, nil, style)
}

// arrowRune picks the glyph closest to the arrow's screen direction.
func arrowRune(a simulation.Arrow) rune {
	dx, dy := a.To.X-a.From.X, a.To.Y-a.From.Y
	if math.Abs(dx) >= math.Abs(dy) {
		if dx < 0 {
			return '←'
		}
		return '→'
	}
	if dy < 0 {
		return '↑'
	}
	return '↓'
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// KeyFor maps a tcell key event onto the shared key map.
func KeyFor(ev *tcell.EventKey) (keymap.Key, bool) {
	switch ev.Key() {
	case tcell.KeyUp:
		return keymap.KeyUp, true
	case tcell.KeyDown:
		return keymap.KeyDown, true
	case tcell.KeyLeft:
		return keymap.KeyLeft, true
	case tcell.KeyRight:
		return keymap.KeyRight, true
	case tcell.KeyRune:
		switch ev.Rune() {
		case ' ':
			return keymap.KeySpace, true
		case 'm', 'M':
			return keymap.KeyM, true
		case 'n', 'N':
			return keymap.KeyN, true
		case 'd', 'D':
			return keymap.KeyD, true
		case 'w', 'W':
			return keymap.KeyW, true
		case 'q', 'Q':
			return keymap.KeyQ, true
		case 'r', 'R':
			return keymap.KeyR, true
		case 'f', 'F':
			return keymap.KeyF, true
		case 'c', 'C':
			return keymap.KeyC, true
		}
	}
	return "", false
}
