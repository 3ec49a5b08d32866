package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newHooksCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "List the hook ids events can be sent for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			vocab, err := cfg.Vocabulary()
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(vocab.All())
			}
			fmt.Fprint(cmd.OutOrStdout(), renderHooks(vocab.All()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
