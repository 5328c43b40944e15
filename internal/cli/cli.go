package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/aniasusual/blind/internal/config"
)

// Version is injected at build time.
var Version = "dev"

// CLI is the root command tree.
type CLI struct {
	Format  string `help:"Output format: text or ndjson (default: from config, ndjson when piped)" enum:"text,ndjson," default:""`
	Quiet   bool   `short:"q" help:"Suppress informational output"`
	Verbose bool   `short:"v" help:"Enable verbose debug logging"`

	Collect CollectCmd `cmd:"" help:"Run the collector and capture a trace session"`
	Inspect InspectCmd `cmd:"" help:"Inspect a captured session snapshot at a cursor position"`
	Replay  ReplayCmd  `cmd:"" help:"Play a captured session forward on the timeline"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// Globals carries shared state into command Run methods.
type Globals struct {
	Format  string
	Quiet   bool
	Verbose bool
	Stdout  io.Writer
	Stderr  io.Writer
	Config  *config.Config

	debug func(format string, args ...interface{})
}

// NewGlobalsWithConfig builds Globals from parsed flags and loaded config.
// When stdout is not a terminal and no format was chosen explicitly, output
// defaults to ndjson so piped consumers get machine-readable records.
func NewGlobalsWithConfig(c *CLI, cfg *config.Config) *Globals {
	format := c.Format
	if format == "" {
		format = cfg.Format
		if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			format = "ndjson"
		}
	}
	g := &Globals{
		Format:  format,
		Quiet:   c.Quiet || cfg.Quiet,
		Verbose: c.Verbose || cfg.Verbose,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Config:  cfg,
	}
	g.debug = newDebugLogger(g)
	return g
}

// Debug logs a formatted debug line when --verbose is set.
func (g *Globals) Debug(format string, args ...interface{}) {
	if g.debug != nil {
		g.debug(format, args...)
	}
}

// VersionCmd prints the version.
type VersionCmd struct{}

// Run executes the version command.
func (c *VersionCmd) Run(globals *Globals) error {
	if globals.Format == "ndjson" {
		fmt.Fprintf(globals.Stdout, `{"type":"version","version":"%s"}`+"\n", Version)
		return nil
	}
	fmt.Fprintf(globals.Stdout, "blind %s\n", Version)
	return nil
}
