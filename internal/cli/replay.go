package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/gamebeat/internal/config"
	"github.com/gyaneshwarpardhi/gamebeat/internal/replay"
)

func newReplayCmd(a *app) *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run recorded telemetry (JSON lines) through the rule engine",
		Long: `replay evaluates a JSON-lines telemetry recording offline and prints one
JSON line per playback action. Nothing is sent to Spotify.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(a.v.GetString("config"))
			if err != nil {
				return err
			}

			var r io.Reader = cmd.InOrStdin()
			if input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				r = f
			}

			sum, err := replay.Run(cfg, r, cmd.OutOrStdout(), a.logger)
			if err != nil {
				return err
			}
			a.logger.Info("replay finished",
				"lines", sum.Lines,
				"events", sum.Events,
				"skipped", sum.Skipped,
				"misconfigured", sum.Misconfigs,
				"actions", sum.Actions,
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "-", "JSON-lines recording to replay (- for stdin)")
	return cmd
}
