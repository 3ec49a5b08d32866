package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"reviewhooks/internal/hooks"
	"reviewhooks/internal/model"
	"reviewhooks/internal/registry"
)

func newTargetsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Manage notification targets in the configured store",
		Long:  "Manage notification targets. Changes only persist with the redis or postgres store; the memory store lives for one command.",
	}
	cmd.AddCommand(newTargetsListCmd(opts))
	cmd.AddCommand(newTargetsAddCmd(opts))
	cmd.AddCommand(newTargetsRemoveCmd(opts))
	cmd.AddCommand(newTargetsToggleCmd(opts, "enable", true))
	cmd.AddCommand(newTargetsToggleCmd(opts, "disable", false))
	return cmd
}

// withApp builds the app for one command and closes it afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(a *app) error) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func newTargetsListCmd(opts *rootOptions) *cobra.Command {
	var (
		hook   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				var (
					targets []model.Target
					err     error
				)
				if hook != "" {
					targets, err = a.store.ListTargets(cmd.Context(), hooks.HookID(hook))
				} else {
					targets, err = a.store.AllTargets(cmd.Context())
				}
				if err != nil {
					return err
				}

				if asJSON {
					for i := range targets {
						targets[i].Credentials = redact(targets[i].Credentials)
					}
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(targets)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTargets(targets))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&hook, "hook", "", "only list targets for this hook id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newTargetsAddCmd(opts *rootOptions) *cobra.Command {
	var (
		t        model.Target
		kind     string
		format   string
		disabled bool
		creds    model.Credentials
	)
	cmd := &cobra.Command{
		Use:   "add <hook-id> <endpoint>",
		Short: "Register a target for a hook",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				t.HookID = hooks.HookID(args[0])
				t.Endpoint = args[1]
				t.Kind = model.TargetKind(kind)
				t.Format = model.BodyFormat(format)
				t.Enabled = !disabled
				if creds != (model.Credentials{}) {
					t.Credentials = &creds
				}

				if !a.vocab.Known(t.HookID) {
					return fmt.Errorf("unknown hook %q (see `reviewhooks hooks`)", t.HookID)
				}
				switch t.Kind {
				case "", model.KindWebhook, model.KindSlack, model.KindXMLRPC:
				default:
					return fmt.Errorf("unknown kind %q (valid: webhook, slack, xmlrpc)", kind)
				}
				switch t.Format {
				case "", model.FormatJSON, model.FormatForm:
				default:
					return fmt.Errorf("unknown format %q (valid: json, form)", format)
				}

				if err := a.store.SaveTarget(cmd.Context(), &t); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), t.ID)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&t.ID, "id", "", "target id (generated when empty)")
	f.StringVar(&t.Description, "description", "", "free-form description")
	f.StringVar(&kind, "kind", "webhook", "target kind: webhook, slack or xmlrpc")
	f.StringVar(&format, "format", "json", "webhook body format: json or form")
	f.BoolVar(&disabled, "disabled", false, "register the target disabled")
	f.StringVar(&creds.Username, "username", "", "basic auth username")
	f.StringVar(&creds.Password, "password", "", "basic auth password")
	f.StringVar(&creds.Secret, "secret", "", "HMAC signing secret")
	return cmd
}

func newTargetsRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <target-id>",
		Short: "Delete a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				return a.store.DeleteTarget(cmd.Context(), args[0])
			})
		},
	}
}

func newTargetsToggleCmd(opts *rootOptions, name string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <target-id>",
		Short: fmt.Sprintf("Mark a target %sd", name),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				all, err := a.store.AllTargets(cmd.Context())
				if err != nil {
					return err
				}
				for _, t := range all {
					if t.ID != args[0] {
						continue
					}
					t.Enabled = enabled
					return a.store.SaveTarget(cmd.Context(), &t)
				}
				return fmt.Errorf("%w: %s", registry.ErrTargetNotFound, args[0])
			})
		},
	}
}

func redact(c *model.Credentials) *model.Credentials {
	if c == nil {
		return nil
	}
	out := &model.Credentials{Username: c.Username}
	if c.Password != "" {
		out.Password = "***"
	}
	if c.Secret != "" {
		out.Secret = "***"
	}
	return out
}
