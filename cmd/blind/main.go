package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/alecthomas/kong"

	"github.com/aniasusual/blind/internal/cli"
	"github.com/aniasusual/blind/internal/config"
)

const quickStart = `blind - execution capture and time-travel exploration

Quick start:
  blind collect -o run.json           Capture a session, snapshot on Ctrl+C
  blind inspect run.json --at 120     Reconstructed state at event 120
  blind replay run.json --speed 4     Play the timeline forward

For help:
  blind --help
`

func main() {
	// Show quick start if no args provided
	if len(os.Args) == 1 {
		fmt.Print(quickStart)
		return
	}

	// Load configuration from files/environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c cli.CLI

	// Config-derived defaults; CLI flags override them.
	vars := kong.Vars{
		"config_endpoint":       cfg.Defaults.Endpoint,
		"config_hot_threshold":  strconv.Itoa(cfg.Defaults.HotThreshold),
		"config_playback_speed": strconv.FormatFloat(cfg.Defaults.PlaybackSpeed, 'f', -1, 64),
	}

	ctx := kong.Parse(&c,
		kong.Name("blind"),
		kong.Description("Capture a program run as an ordered event log and explore any point of it after the fact"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		vars,
	)

	globals := cli.NewGlobalsWithConfig(&c, cfg)
	if err := ctx.Run(globals); err != nil {
		os.Exit(1)
	}
}
