package main

import (
	"context"
	"testing"

	"github.com/berkguzel/iamguard/internal/logger"
	"github.com/stretchr/testify/assert"
)

func init() {
	logger.Discard()
}

func TestHandle_FailsFastWithoutBucket(t *testing.T) {
	t.Setenv("RESULTS_BUCKET", "")
	t.Setenv("LOG_LEVEL", "error")

	summary, err := handle(context.Background())
	assert.ErrorContains(t, err, "results bucket is not set")
	assert.False(t, summary.OK)
}

func TestHandle_InvalidMode(t *testing.T) {
	t.Setenv("RESULTS_BUCKET", "audit-bucket")
	t.Setenv("IAMGUARD_MODE", "org")

	_, err := handle(context.Background())
	assert.ErrorContains(t, err, `unknown scan mode "org"`)
}
