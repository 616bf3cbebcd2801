package main

import (
	"github.com/berkguzel/iamguard/internal/logger"
	"github.com/berkguzel/iamguard/internal/options"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	opts := options.NewOptions()

	root := &cobra.Command{
		Use:   "iamguard",
		Short: "Find over-permissive IAM policies",
		Long: `iamguard scans the customer managed policies of an AWS account, or the
policies attached to its users and roles, and flags Allow statements that
grant wildcard actions or resources.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Configure(opts.LogLevel, opts.LogFormat)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.Output, "output", "o", opts.Output, "Output format: text, table or json")
	flags.StringVar(&opts.Region, "region", opts.Region, "AWS region (defaults to AWS_REGION)")
	flags.IntVar(&opts.MaxAttempts, "max-attempts", opts.MaxAttempts, "Maximum attempts per AWS API call")
	flags.IntVar(&opts.Workers, "workers", opts.Workers, "Number of policies scanned concurrently")
	flags.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Log level: debug, info, warn or error")
	flags.StringVar(&opts.LogFormat, "log-format", opts.LogFormat, "Log format: text or json")

	root.AddCommand(newScanCmd(opts))
	root.AddCommand(newPodCmd(opts))
	return root
}
