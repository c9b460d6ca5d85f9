package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/gamebeat/internal/config"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a config file against the schema and semantic rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.v.GetString("config")
			cfg, err := config.LoadFile(path)
			if err != nil {
				return err
			}
			enabled := 0
			for _, ev := range cfg.Events {
				if ev.Enabled {
					enabled++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (version %s, active profile %q, %d events, %d enabled)\n",
				path, cfg.Version, cfg.ActiveProfile, len(cfg.Events), enabled)
			return nil
		},
	}
}
