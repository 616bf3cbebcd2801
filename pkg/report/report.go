package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/berkguzel/iamguard/pkg/types"
)

const (
	ContentType = "application/json"

	// ISOFormat renders generated_at_iso from generated_at_epoch.
	ISOFormat = "2006-01-02T15:04:05Z"
)

// DocumentStore persists a report document in a single write.
type DocumentStore interface {
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) error
}

type Reporter struct {
	store  DocumentStore
	bucket string
	prefix string
}

func New(store DocumentStore, bucket, prefix string) (*Reporter, error) {
	if bucket == "" {
		return nil, fmt.Errorf("report bucket is not set")
	}
	return &Reporter{store: store, bucket: bucket, prefix: prefix}, nil
}

// Build assembles the report of a run that started at startedAt.
func Build(accountID string, res types.ScanResult, startedAt time.Time) types.ScanRun {
	epoch := startedAt.Unix()

	findings := res.Entries
	if findings == nil {
		findings = []types.Entry{}
	}

	return types.ScanRun{
		AccountID:        accountID,
		Mode:             res.Mode,
		ScannedPolicies:  res.Scanned,
		TotalFindings:    len(findings),
		GeneratedAtEpoch: epoch,
		GeneratedAtISO:   FormatEpoch(epoch),
		Findings:         findings,
	}
}

// FormatEpoch renders epoch seconds as a UTC ISO-8601 timestamp.
func FormatEpoch(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(ISOFormat)
}

// Key returns the object key of a report: <prefix><account>_<epoch>.json.
func Key(prefix, accountID string, epoch int64) string {
	return fmt.Sprintf("%s%s_%d.json", prefix, accountID, epoch)
}

func Encode(run types.ScanRun) ([]byte, error) {
	return json.MarshalIndent(run, "", "  ")
}

func Decode(data []byte) (types.ScanRun, error) {
	var run types.ScanRun
	if err := json.Unmarshal(data, &run); err != nil {
		return run, fmt.Errorf("failed to decode report: %w", err)
	}
	return run, nil
}

// Publish encodes run and stores it with one write.
func (r *Reporter) Publish(ctx context.Context, run types.ScanRun) (types.Summary, error) {
	body, err := Encode(run)
	if err != nil {
		return types.Summary{}, fmt.Errorf("failed to encode report: %w", err)
	}

	key := Key(r.prefix, run.AccountID, run.GeneratedAtEpoch)
	if err := r.store.Put(ctx, r.bucket, key, body, ContentType); err != nil {
		return types.Summary{}, fmt.Errorf("failed to store report: %w", err)
	}

	return types.Summary{
		OK:        true,
		StoredKey: key,
		Scanned:   run.ScannedPolicies,
		Findings:  run.TotalFindings,
	}, nil
}
