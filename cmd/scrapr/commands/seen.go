package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emilyzhang/scrapr/crawlerdb"
)

// ErrNotSeen is returned by the seen command for URLs never visited.
var ErrNotSeen = errors.New("not seen")

func newSeenCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seen <url>",
		Short: "Report whether a URL has been visited",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := crawlerdb.New(cmd.Context(), cfg.Database, log)
			if err != nil {
				return fmt.Errorf("unable to open database: %w", err)
			}
			defer db.Close()

			res, err := db.GetResource(cmd.Context(), args[0])
			if errors.Is(err, crawlerdb.ErrDoesNotExist) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s has not been visited\n", args[0])
				return ErrNotSeen
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s was visited (id %d)\n", res.URL, res.ID)
			return nil
		},
	}
}
