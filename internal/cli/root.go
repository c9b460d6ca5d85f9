// Package cli implements the gamebeat command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set by main.
var Version = "dev"

const envPrefix = "GAMEBEAT"

// app carries settings and logging shared by every subcommand.
type app struct {
	v      *viper.Viper
	level  *slog.LevelVar
	logger *slog.Logger
}

// NewRootCmd builds the command tree. Settings resolve from flags first, then
// GAMEBEAT_* environment variables (optionally from .env files), then defaults.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{v: viper.New(), level: new(slog.LevelVar)})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "gamebeat",
		Short: "Game-reactive music playback",
		Long: `gamebeat listens to game telemetry, decides which moments deserve a
soundtrack change and drives Spotify playback accordingly.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "configs/gamebeat.yaml", "path to the gamebeat YAML config")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	for _, name := range []string{"config", "log-level", "log-format"} {
		if err := a.v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind %s flag: %v", name, err))
		}
	}

	root.AddCommand(newRunCmd(a), newValidateCmd(a), newReplayCmd(a))
	return root
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (a *app) setup(stderr io.Writer) error {
	loadEnvFiles()
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()

	if err := a.level.UnmarshalText([]byte(a.v.GetString("log-level"))); err != nil {
		return fmt.Errorf("invalid log level %q", a.v.GetString("log-level"))
	}
	opts := &slog.HandlerOptions{Level: a.level}
	switch format := a.v.GetString("log-format"); format {
	case "json":
		a.logger = slog.New(slog.NewJSONHandler(stderr, opts))
	case "text", "":
		a.logger = slog.New(slog.NewTextHandler(stderr, opts))
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	slog.SetDefault(a.logger)
	return nil
}

// applyConfigLevel follows developer.logging_level unless the level was set
// explicitly by flag or environment.
func (a *app) applyConfigLevel(level string) {
	if a.v.IsSet("log-level") || level == "" {
		return
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		a.logger.Warn("ignoring invalid logging level from config", "level", level)
		return
	}
	a.level.Set(l)
}

// loadEnvFiles loads .env then .env.local; variables already set win.
func loadEnvFiles() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			fmt.Fprintf(os.Stderr, "warning: load %s: %v\n", name, err)
		}
	}
}
