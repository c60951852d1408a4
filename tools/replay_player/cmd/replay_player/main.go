package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	replayplayer "projectilelab/server/tools/replay_player"
)

func main() {
	path := flag.String("path", "", "Path to a recording directory or its manifest.json")
	plot := flag.Bool("plot", false, "Print an altitude chart instead of JSON")
	full := flag.Bool("frames", false, "Include every decoded frame and event in the JSON output")
	width := flag.Int("width", 60, "Chart width in columns")
	height := flag.Int("height", 12, "Chart height in rows")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}

	rec, err := replayplayer.ReplayBundle(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	if *plot {
		fmt.Print(replayplayer.Plot(rec, *width, *height))
		return
	}

	bundle := replayplayer.Bundle{Summary: replayplayer.Summarise(rec)}
	if *full {
		bundle.Recording = rec
	}
	//1.- Render the bundle as JSON so callers can pipe the output elsewhere.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(bundle); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
