package main

import (
	"context"
	"io"

	"github.com/berkguzel/iamguard/internal/logger"
	"github.com/berkguzel/iamguard/internal/options"
	"github.com/berkguzel/iamguard/pkg/aws"
	"github.com/berkguzel/iamguard/pkg/guardian"
	"github.com/berkguzel/iamguard/pkg/printer"
	"github.com/berkguzel/iamguard/pkg/report"
	"github.com/berkguzel/iamguard/pkg/scanner"
	"github.com/spf13/cobra"
)

func newScanCmd(opts *options.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the account for over-permissive policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Mode, "mode", opts.Mode, "Scan mode: account or identity")
	flags.BoolVar(&opts.IncludeRoles, "include-roles", opts.IncludeRoles, "Also scan roles in identity mode")
	flags.BoolVar(&opts.Store, "store", opts.Store, "Persist the report to S3")
	flags.StringVar(&opts.Bucket, "bucket", opts.Bucket, "S3 bucket for reports (defaults to RESULTS_BUCKET)")
	flags.StringVar(&opts.Prefix, "prefix", opts.Prefix, "Key prefix for reports")
	return cmd
}

func runScan(ctx context.Context, opts *options.Options, out io.Writer) error {
	validate := opts.Validate
	if opts.Store {
		validate = opts.ValidateStore
	}
	if err := validate(); err != nil {
		return err
	}

	client, err := aws.NewClient(ctx, aws.Config{
		Region:       opts.Region,
		MaxAttempts:  opts.MaxAttempts,
		IncludeRoles: opts.IncludeRoles,
	})
	if err != nil {
		return err
	}

	s := scanner.New(client, client, scanner.Options{Workers: opts.Workers})
	job := guardian.NewJob(client, s, nil, opts.Mode)
	job.Stats = client

	run, err := job.Execute(ctx)
	if err != nil {
		return err
	}

	if opts.Store {
		reporter, err := report.New(client, opts.Bucket, opts.Prefix)
		if err != nil {
			return err
		}
		summary, err := reporter.Publish(ctx, run)
		if err != nil {
			return err
		}
		logger.New("iamguard").Info("report stored", "bucket", opts.Bucket, "key", summary.StoredKey)
	}

	return printer.New(out).Print(run, opts.Output)
}
