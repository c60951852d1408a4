package main

import (
	"errors"
	"flag"
	"os"

	"github.com/hajimehoshi/ebiten/v2"

	"projectilelab/server/internal/config"
	"projectilelab/server/internal/lab"
	"projectilelab/server/internal/logging"
	"projectilelab/server/internal/sound"
	"projectilelab/server/tools/desktop"
)

func main() {
	volume := flag.Float64("volume", 0.4, "Chime volume between 0 and 1; 0 mutes")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.L().Fatal("failed to load configuration", logging.Error(err))
	}
	logger, err := logging.NewWithWriter(os.Stderr, cfg.Logging.Level, logging.String("host", "desktop"))
	if err != nil {
		logging.L().Fatal("failed to initialise logger", logging.Error(err))
	}

	//1.- Audio is optional; machines without a device keep running silently.
	sounds := sound.NewPlayer(*volume, logger)
	if *volume <= 0 {
		sounds.SetMuted(true)
	} else if err := sounds.Init(); err != nil {
		logger.Warn("audio unavailable", logging.Error(err))
	}
	defer sounds.Close()

	game, err := desktop.NewGame(lab.Config{
		Width:             cfg.Surface.Width,
		Height:            cfg.Surface.Height,
		Seed:              cfg.Simulation.Seed,
		TickHz:            cfg.Simulation.TickHz,
		ChallengeDuration: cfg.Challenge.Duration,
		PointsPerHit:      cfg.Challenge.PointsPerHit,
	}, sounds, logger)
	if err != nil {
		logger.Fatal("failed to create lab", logging.Error(err))
	}
	defer game.Close()

	ebiten.SetWindowSize(int(cfg.Surface.Width), int(cfg.Surface.Height))
	ebiten.SetWindowTitle("Projectile Lab")
	ebiten.SetTPS(int(cfg.Simulation.TickHz))
	if err := ebiten.RunGame(game); err != nil && !errors.Is(err, ebiten.Termination) {
		logger.Error("desktop host stopped", logging.Error(err))
	}
}
