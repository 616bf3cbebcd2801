// Package guardian runs one complete scan: resolve the account, scan it,
// and persist the report.
package guardian

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berkguzel/iamguard/internal/logger"
	"github.com/berkguzel/iamguard/pkg/report"
	"github.com/berkguzel/iamguard/pkg/types"
)

var ErrMissingAccount = errors.New("account identifier is empty")

type AccountProvider interface {
	AccountID(ctx context.Context) (string, error)
}

type Scanner interface {
	Scan(ctx context.Context, mode string) (types.ScanResult, error)
}

type Publisher interface {
	Publish(ctx context.Context, run types.ScanRun) (types.Summary, error)
}

// StatsReporter is implemented by collaborators that can report API usage.
type StatsReporter interface {
	Stats() map[string]interface{}
}

type Job struct {
	Accounts  AccountProvider
	Scanner   Scanner
	Publisher Publisher
	Mode      string
	Stats     StatsReporter

	now func() time.Time
	log logger.Logger
}

func NewJob(accounts AccountProvider, scanner Scanner, publisher Publisher, mode string) *Job {
	return &Job{
		Accounts:  accounts,
		Scanner:   scanner,
		Publisher: publisher,
		Mode:      mode,
		now:       time.Now,
		log:       logger.New("guardian", "mode", mode),
	}
}

// Execute resolves the account and scans it. Nothing is persisted.
func (j *Job) Execute(ctx context.Context) (types.ScanRun, error) {
	started := j.now()

	accountID, err := j.Accounts.AccountID(ctx)
	if err != nil {
		return types.ScanRun{}, fmt.Errorf("failed to resolve account: %w", err)
	}
	if accountID == "" {
		return types.ScanRun{}, ErrMissingAccount
	}

	res, err := j.Scanner.Scan(ctx, j.Mode)
	if err != nil {
		return types.ScanRun{}, fmt.Errorf("scan failed: %w", err)
	}

	if j.Stats != nil {
		j.log.Debug("api usage", "stats", j.Stats.Stats())
	}

	return report.Build(accountID, res, started), nil
}

// Run executes the scan and publishes its report exactly once.
func (j *Job) Run(ctx context.Context) (types.Summary, error) {
	if j.Publisher == nil {
		return types.Summary{}, fmt.Errorf("no report publisher configured")
	}

	run, err := j.Execute(ctx)
	if err != nil {
		j.log.Error("scan failed", err)
		return types.Summary{}, err
	}

	summary, err := j.Publisher.Publish(ctx, run)
	if err != nil {
		j.log.Error("failed to publish report", err)
		return types.Summary{}, err
	}

	j.log.Info("report stored",
		"account", run.AccountID,
		"key", summary.StoredKey,
		"scanned", summary.Scanned,
		"findings", summary.Findings,
	)
	return summary, nil
}
