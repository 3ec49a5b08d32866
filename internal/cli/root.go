// Package cli wires the configuration, stores, queues and dispatcher into
// the reviewhooks command.
package cli

import (
	"github.com/spf13/cobra"

	"reviewhooks/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

type rootOptions struct {
	configPath string
	envFile    string
}

func (o *rootOptions) load() (config.Config, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return config.Config{}, err
	}
	return config.Load(o.configPath)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "reviewhooks",
		Short:         "Deliver review events to webhooks, Slack and CIA",
		Long:          "reviewhooks receives review events and delivers them to every subscribed webhook, Slack or XML-RPC target with bounded retry.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultFile, "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional dotenv file loaded before the config")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newNotifyCmd(opts))
	cmd.AddCommand(newHooksCmd(opts))
	cmd.AddCommand(newTargetsCmd(opts))
	return cmd
}

// NewRootCmdForTest returns the root command for testing.
func NewRootCmdForTest() *cobra.Command {
	return newRootCmd()
}

func Execute() error {
	return newRootCmd().Execute()
}
