package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"projectilelab/server/tools/batch"
)

func main() {
	configPath := flag.String("config", "-", "Path to the JSON shot config, or - for stdin")
	chart := flag.Bool("chart", false, "Print an altitude chart and summary instead of JSON")
	pngPath := flag.String("png", "", "Write a trajectory plot to this file")
	full := flag.Bool("frames", false, "Include every frame in the JSON log")
	flag.Parse()

	var in io.Reader = os.Stdin
	if *configPath != "-" {
		file, err := os.Open(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		defer file.Close()
		in = file
	}

	cfg, err := batch.DecodeConfig(in)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	//1.- Charts need the per-step frames even when the JSON log omits them.
	keepFrames := *full || *chart || *pngPath != ""
	log, err := batch.Run(cfg, keepFrames)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	if *pngPath != "" {
		if err := batch.WritePNG(cfg, log, *pngPath); err != nil {
			fmt.Fprintln(os.Stderr, "plot error:", err)
			os.Exit(3)
		}
	}
	if *chart {
		fmt.Print(batch.Chart(cfg, log))
		return
	}
	if !*full {
		for i := range log.Shots {
			log.Shots[i].Frames = nil
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(log); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
