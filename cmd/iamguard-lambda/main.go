// Command iamguard-lambda runs one scan per invocation and stores the report
// in S3. It is meant to be triggered on a schedule.
package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/berkguzel/iamguard/internal/logger"
	"github.com/berkguzel/iamguard/internal/options"
	"github.com/berkguzel/iamguard/pkg/aws"
	"github.com/berkguzel/iamguard/pkg/guardian"
	"github.com/berkguzel/iamguard/pkg/report"
	"github.com/berkguzel/iamguard/pkg/scanner"
	"github.com/berkguzel/iamguard/pkg/types"
)

func main() {
	lambda.Start(handle)
}

func handle(ctx context.Context) (types.Summary, error) {
	opts := options.NewOptions()
	logger.Configure(opts.LogLevel, opts.LogFormat)

	job, err := newJob(ctx, opts)
	if err != nil {
		logger.New("iamguard-lambda").Error("invalid configuration", err)
		return types.Summary{}, err
	}
	return job.Run(ctx)
}

func newJob(ctx context.Context, opts *options.Options) (*guardian.Job, error) {
	if err := opts.ValidateStore(); err != nil {
		return nil, err
	}

	client, err := aws.NewClient(ctx, aws.Config{
		Region:       opts.Region,
		MaxAttempts:  opts.MaxAttempts,
		IncludeRoles: opts.IncludeRoles,
	})
	if err != nil {
		return nil, err
	}

	reporter, err := report.New(client, opts.Bucket, opts.Prefix)
	if err != nil {
		return nil, err
	}

	s := scanner.New(client, client, scanner.Options{Workers: opts.Workers})
	job := guardian.NewJob(client, s, reporter, opts.Mode)
	job.Stats = client
	return job, nil
}
