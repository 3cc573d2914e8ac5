// Package main provides the tapedeck command.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tapedeck/internal/infra/config"
	"github.com/osa030/tapedeck/internal/infra/logger"
)

var (
	app        = kingpin.New("tapedeck", "Local audio playlist player")
	configPath = app.Flag("config", "Path to config file").Default("config/tapedeck.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stderr, or <data_dir>/tapedeck.log while playing)").String()

	// play command (default)
	playCmd    = app.Command("play", "Start the player (default)").Default()
	playPaused = playCmd.Flag("paused", "Restore the last track without starting playback").Bool()
	playMute   = playCmd.Flag("mute", "Run without audio output").Bool()

	// add command
	addCmd   = app.Command("add", "Append audio files to the playlist")
	addFiles = addCmd.Arg("file", "Audio files to add").Required().ExistingFiles()

	// list command
	listCmd = app.Command("list", "List the playlist").Alias("ls")

	// status command
	statusCmd = app.Command("status", "Show the saved playback position")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{Output: "stderr", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	closer, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closer.Close()

	zlog.Debug().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	switch command {
	case playCmd.FullCommand():
		err = play(ctx, cfg, loggerConfig)
	case addCmd.FullCommand():
		err = add(ctx, cfg, *addFiles)
	case listCmd.FullCommand():
		err = list(ctx, cfg)
	case statusCmd.FullCommand():
		err = status(ctx, cfg)
	}
	if err != nil {
		zlog.Error().Msgf("%s failed: %v", command, err)
		closer.Close()
		os.Exit(1)
	}
}
