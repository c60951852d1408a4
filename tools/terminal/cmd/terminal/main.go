package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"

	"projectilelab/server/internal/config"
	"projectilelab/server/internal/keymap"
	"projectilelab/server/internal/lab"
	"projectilelab/server/internal/logging"
	"projectilelab/server/internal/simulation"
	"projectilelab/server/tools/terminal"
)

func main() {
	logPath := flag.String("log", "", "Write structured logs to this file instead of discarding them")
	flag.Parse()

	if err := run(*logPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(logPath string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	//1.- The screen owns stdout, so logs go to a file or nowhere.
	var sink io.Writer = io.Discard
	if logPath != "" {
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer file.Close()
		sink = file
	}
	logger, err := logging.NewWithWriter(sink, cfg.Logging.Level, logging.String("host", "terminal"))
	if err != nil {
		return err
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()
	view := terminal.NewView(screen)

	session, err := lab.New(lab.Config{
		Width:             cfg.Surface.Width,
		Height:            cfg.Surface.Height,
		Seed:              cfg.Simulation.Seed,
		TickHz:            cfg.Simulation.TickHz,
		ChallengeDuration: cfg.Challenge.Duration,
		PointsPerHit:      cfg.Challenge.PointsPerHit,
	}, lab.WithLogger(logger), lab.WithHooks(lab.Hooks{
		TargetHit: func(simulation.Target) { view.AddHit() },
	}))
	if err != nil {
		return err
	}
	defer session.Close()

	keys := make(chan tcell.Event, 16)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				close(keys)
				return
			}
			keys <- ev
		}
	}()

	//2.- The host owns the frame clock and advances the lab once per tick.
	ticker := time.NewTicker(time.Duration(float64(time.Second) / cfg.Simulation.TickHz))
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-keys:
			if !ok {
				return nil
			}
			switch ev := ev.(type) {
			case *tcell.EventResize:
				screen.Sync()
			case *tcell.EventKey:
				if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC {
					return nil
				}
				key, ok := terminal.KeyFor(ev)
				if !ok {
					continue
				}
				cmd, ok := keymap.Resolve(key, session.Parameters())
				if !ok {
					continue
				}
				if _, err := session.Apply(cmd); err != nil {
					logger.Warn("command rejected", logging.String("command", cmd.Name), logging.Error(err))
				}
			}
		case <-ticker.C:
			session.Advance()
			view.Draw(session.Drawable(), session.Snapshot())
		}
	}
}
