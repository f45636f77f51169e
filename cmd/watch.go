package cmd

import (
	"github.com/spf13/cobra"
)

var watchOpts convertOptions

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Convert images as they appear in a directory",
	Long: `Watches a directory and converts every supported image once it has
stopped changing for the debounce window. Accepts the same flags as convert.
Runs until interrupted; files being converted at that moment are allowed to
finish within the grace period.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	addConvertFlags(watchCmd, &watchOpts)
	rootCmd.AddCommand(watchCmd)
}

func runWatch(c *cobra.Command, args []string) error {
	if err := applyFlags(c, &watchOpts, cfg); err != nil {
		return err
	}

	ctx, stop := signalContext(c.Context())
	defer stop()

	r, err := newRunner(cfg, logger, false)
	if err != nil {
		return err
	}
	defer r.close()
	return r.watch(ctx, args[0])
}
