package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"projectilelab/server/internal/lab"
	"projectilelab/server/internal/simulation"
)

// ControlRange bounds a slider control.
type ControlRange struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
	Unit string  `json:"unit,omitempty"`
}

// ControlDoc describes a single slider, button or keyboard shortcut shared by the
// browser page and the desktop and terminal hosts.
type ControlDoc struct {
	ID          string        `json:"id"`
	Label       string        `json:"label"`
	Description string        `json:"description"`
	Command     string        `json:"command"`
	Shortcut    string        `json:"shortcut,omitempty"`
	Range       *ControlRange `json:"range,omitempty"`
}

var defaultControlDocs = []ControlDoc{
	{
		ID:          "angle",
		Label:       "Launch Angle",
		Description: "Elevation of the launcher above the horizon.",
		Command:     lab.CommandSetAngle,
		Shortcut:    "Arrow Up / Arrow Down",
		Range:       &ControlRange{Min: 0, Max: 90, Step: 1, Unit: "deg"},
	},
	{
		ID:          "velocity",
		Label:       "Initial Velocity",
		Description: "Muzzle speed of the projectile.",
		Command:     lab.CommandSetVelocity,
		Shortcut:    "Arrow Right / Arrow Left",
		Range:       &ControlRange{Min: 0, Max: simulation.MaxLaunchSpeed, Step: 1, Unit: "m/s"},
	},
	{
		ID:          "mass",
		Label:       "Mass",
		Description: "Projectile mass; heavier shots shrug off drag and wind.",
		Command:     lab.CommandSetMass,
		Shortcut:    "M / N",
		Range:       &ControlRange{Min: simulation.MinMass, Max: simulation.MaxMass, Step: 0.1, Unit: "kg"},
	},
	{
		ID:          "air-resistance",
		Label:       "Air Resistance",
		Description: "Scales the quadratic drag coefficient; zero flies in vacuum.",
		Command:     lab.CommandSetAirResistance,
		Shortcut:    "D",
		Range:       &ControlRange{Min: 0, Max: 1, Step: 0.01},
	},
	{
		ID:          "wind",
		Label:       "Wind Speed",
		Description: "Horizontal wind; negative values blow toward the launcher.",
		Command:     lab.CommandSetWind,
		Shortcut:    "W / Q",
		Range:       &ControlRange{Min: -simulation.MaxWindSpeed, Max: simulation.MaxWindSpeed, Step: 0.5, Unit: "m/s"},
	},
	{
		ID:          "launch",
		Label:       "Launch / Reset",
		Description: "Fire with the current settings, or reset an active flight.",
		Command:     lab.CommandToggleLaunch,
		Shortcut:    "Space",
	},
	{
		ID:          "reset",
		Label:       "Reset",
		Description: "Return the projectile to the launcher and clear the trail.",
		Command:     lab.CommandReset,
		Shortcut:    "R",
	},
	{
		ID:          "force-vectors",
		Label:       "Force Vectors",
		Description: "Overlay gravity, drag and wind arrows on the projectile.",
		Command:     lab.CommandToggleForceVectors,
		Shortcut:    "F",
	},
	{
		ID:          "challenge",
		Label:       "Challenge",
		Description: "Start or stop a timed round scoring every target hit.",
		Command:     lab.CommandToggleChallenge,
		Shortcut:    "C",
	},
}

// registerControlDocEndpoints serves the control catalogue as JSON.
func registerControlDocEndpoints(mux *http.ServeMux) {
	mux.HandleFunc("/api/controls", func(w http.ResponseWriter, r *http.Request) {
		// Work on a copy so concurrent requests cannot reorder the shared slice.
		docs := append([]ControlDoc(nil), defaultControlDocs...)
		sort.SliceStable(docs, func(i, j int) bool {
			if docs[i].Label == docs[j].Label {
				return strings.Compare(docs[i].ID, docs[j].ID) < 0
			}
			return strings.Compare(docs[i].Label, docs[j].Label) < 0
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(docs); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
