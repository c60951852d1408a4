package simulation

import "math"

// Theme colours shared by every host.
const (
	BackgroundColor = "#1a1a2e"
	GroundColor     = "#16213e"
	ProjectileColor = "#4895ef"
	TrailColor      = "#ff4d6d"
	TargetColor     = "#ff4d6d"
	HistoryColor    = "#4895ef"
	WindColor       = "#adb5bd"

	GravityVectorColor = "#e03131"
	DragVectorColor    = "#4c6ef5"
	WindVectorColor    = "#37b24d"

	// GridSpacing is the distance between grid lines in pixels.
	GridSpacing = 100.0

	forceScale     = 20.0
	arrowHeadSize  = 10.0
	arrowHeadAngle = math.Pi / 6
)

// ForceKind names the force an Arrow depicts.
type ForceKind string

const (
	ForceGravity ForceKind = "gravity"
	ForceDrag    ForceKind = "drag"
	ForceWind    ForceKind = "wind"
)

// Arrow is a force vector in screen coordinates with its two arrowhead barbs.
type Arrow struct {
	Kind  ForceKind `json:"kind"`
	From  Vec2      `json:"from"`
	To    Vec2      `json:"to"`
	Barbs [2]Vec2   `json:"barbs"`
	Color string    `json:"color"`
}

// Circle is a filled disc in screen coordinates.
type Circle struct {
	Center Vec2    `json:"center"`
	Radius float64 `json:"radius"`
	Color  string  `json:"color"`
}

// Drawable is everything a host needs to render one frame of the lab. All
// coordinates are surface pixels with y growing downward.
type Drawable struct {
	Revision    uint64           `json:"revision"`
	Width       float64          `json:"width"`
	Height      float64          `json:"height"`
	GroundY     float64          `json:"ground_y"`
	GridSpacing float64          `json:"grid_spacing"`
	Launched    bool             `json:"launched"`
	Projectile  Circle           `json:"projectile"`
	Velocity    Vec2             `json:"velocity"`
	Trail       []Vec2           `json:"trail"`
	Target      Target           `json:"target"`
	History     [][]Vec2         `json:"history,omitempty"`
	WindStreaks []WindParticle   `json:"wind_streaks,omitempty"`
	WindSpeed   float64          `json:"wind_speed"`
	Impacts     []ImpactParticle `json:"impacts,omitempty"`
	Forces      []Arrow          `json:"forces,omitempty"`
}

// Drawable snapshots the visual state. The returned slices are copies.
func (e *Engine) Drawable() Drawable {
	if e == nil {
		return Drawable{}
	}
	d := Drawable{
		Revision:    e.revision,
		Width:       e.width,
		Height:      e.height,
		GroundY:     e.groundY,
		GridSpacing: GridSpacing,
		Launched:    e.state.IsLaunched,
		Projectile: Circle{
			Center: e.state.Position,
			Radius: ProjectileRadius(e.state.Mass),
			Color:  ProjectileColor,
		},
		Velocity:  e.state.Velocity,
		Trail:     append([]Vec2(nil), e.state.Trail...),
		Target:    e.state.Target,
		WindSpeed: e.state.WindSpeed,
		Impacts:   append([]ImpactParticle(nil), e.impacts...),
	}
	for _, path := range e.history {
		d.History = append(d.History, append([]Vec2(nil), path...))
	}
	if windVisible(e.state.WindSpeed) {
		d.WindStreaks = append([]WindParticle(nil), e.wind...)
	}
	if e.state.ShowForceVectors {
		d.Forces = e.forceArrows()
	}
	return d
}

// ProjectileRadius is the on-screen radius for a projectile of the given mass.
func ProjectileRadius(mass float64) float64 {
	if !(mass > 0) {
		return 0
	}
	return 5 * math.Cbrt(mass)
}

func (e *Engine) forceArrows() []Arrow {
	pos := e.state.Position
	arrows := make([]Arrow, 0, 3)

	//1.- Gravity always points down the screen.
	gravity := e.conditions.Gravity
	arrows = append(arrows, NewArrow(ForceGravity, pos, Vec2{X: pos.X, Y: pos.Y + gravity*forceScale}, GravityVectorColor))

	//2.- Drag is a simplified per-axis quadratic, flipped into screen space.
	k := e.state.DragScale
	if k > 0 && e.state.Velocity.Len() > 0 {
		vx, vy := e.state.Velocity.X, e.state.Velocity.Y
		dx := -k * vx * math.Abs(vx)
		dy := -k * vy * math.Abs(vy)
		arrows = append(arrows, NewArrow(ForceDrag, pos, Vec2{X: pos.X + dx*forceScale, Y: pos.Y - dy*forceScale}, DragVectorColor))
	}

	//3.- Wind is purely horizontal.
	if e.state.WindSpeed != 0 {
		arrows = append(arrows, NewArrow(ForceWind, pos, Vec2{X: pos.X + e.state.WindSpeed*forceScale, Y: pos.Y}, WindVectorColor))
	}
	return arrows
}

// NewArrow builds an arrow from one point to another with barbs at ±30°.
func NewArrow(kind ForceKind, from, to Vec2, color string) Arrow {
	angle := math.Atan2(to.Y-from.Y, to.X-from.X)
	return Arrow{
		Kind: kind,
		From: from,
		To:   to,
		Barbs: [2]Vec2{
			{X: to.X - arrowHeadSize*math.Cos(angle-arrowHeadAngle), Y: to.Y - arrowHeadSize*math.Sin(angle-arrowHeadAngle)},
			{X: to.X - arrowHeadSize*math.Cos(angle+arrowHeadAngle), Y: to.Y - arrowHeadSize*math.Sin(angle+arrowHeadAngle)},
		},
		Color: color,
	}
}
