// Command items-lambda serves the item routes behind API Gateway.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/berkguzel/iamguard/internal/logger"
	"github.com/berkguzel/iamguard/internal/options"
	"github.com/berkguzel/iamguard/pkg/aws"
	"github.com/berkguzel/iamguard/pkg/items"
)

func main() {
	opts := options.NewOptions()
	logger.Configure(opts.LogLevel, opts.LogFormat)
	log := logger.New("items-lambda")

	handler, err := newHandler(context.Background(), opts)
	if err != nil {
		log.Error("failed to start", err)
		os.Exit(1)
	}

	lambda.Start(handler.Route)
}

func newHandler(ctx context.Context, opts *options.Options) (*items.Handler, error) {
	if err := opts.ValidateTable(); err != nil {
		return nil, err
	}

	cfg, err := aws.LoadConfig(ctx, aws.Config{
		Region:      opts.Region,
		MaxAttempts: opts.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	return items.NewHandler(items.NewStore(dynamodb.NewFromConfig(cfg), opts.Table)), nil
}
