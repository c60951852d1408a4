package main

import (
	"flag"
	"fmt"
	"os"

	replaycatalog "projectilelab/server/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing flight recordings")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := replaycatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		flight := entry.Header.Flight
		fmt.Printf("%s (schema %d)\n", entry.Directory(), entry.Header.SchemaVersion)
		if flight.Session != "" {
			fmt.Printf("  session: %s  seed: %d\n", flight.Session, flight.Seed)
		}
		fmt.Printf("  launch: %.1f deg at %.1f m/s, mass %.2f kg, drag %.2f, wind %+.1f m/s\n",
			flight.Parameters.Angle, flight.Parameters.LaunchSpeed, flight.Parameters.Mass,
			flight.Parameters.DragScale, flight.Parameters.WindSpeed)
		outcome := entry.Header.Outcome
		if outcome == "" {
			outcome = "unfinished"
		}
		fmt.Printf("  frames: %d  outcome: %s\n", entry.Header.Frames, outcome)
	}
}
