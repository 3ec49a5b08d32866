package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"reviewhooks/internal/event"
	"reviewhooks/internal/hooks"
)

type reportView struct {
	HookID    hooks.HookID `json:"hook_id"`
	Targets   int          `json:"targets"`
	Delivered int          `json:"delivered"`
	Skipped   int          `json:"skipped"`
	Results   []resultView `json:"results"`
}

type resultView struct {
	TargetID string `json:"target_id"`
	Endpoint string `json:"endpoint"`
	Success  bool   `json:"success"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

func newNotifyCmd(opts *rootOptions) *cobra.Command {
	var (
		file   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "notify <hook-id>",
		Short: "Deliver one event to its targets and report the outcome",
		Long:  "Read an event document from --file (or stdin with -) and deliver it synchronously to every enabled target subscribed to the hook.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readEvent(cmd, file)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				ev, err := event.Decode(a.vocab, hooks.HookID(args[0]), data)
				if err != nil {
					return err
				}
				engine, err := a.engine()
				if err != nil {
					return err
				}

				report := a.dispatcher(engine, nil).Dispatch(cmd.Context(), ev)

				if asJSON {
					view := reportView{
						HookID:    report.HookID,
						Targets:   report.Targets,
						Delivered: report.Succeeded(),
						Skipped:   report.Skipped,
						Results:   make([]resultView, 0, len(report.Results)),
					}
					for _, r := range report.Results {
						rv := resultView{TargetID: r.TargetID, Endpoint: r.Endpoint, Success: r.Success, Attempts: r.Attempts}
						if r.LastError != nil {
							rv.Error = r.LastError.Error()
						}
						view.Results = append(view.Results, rv)
					}
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(view)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderReport(report))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "event JSON file, - for stdin")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func readEvent(cmd *cobra.Command, file string) ([]byte, error) {
	if file == "" || file == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("reading event from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading event: %w", err)
	}
	return data, nil
}
