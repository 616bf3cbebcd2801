package options

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/berkguzel/iamguard/pkg/types"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/go-homedir"
)

const (
	DefaultPrefix      = "iam-guardian/findings_"
	DefaultMaxAttempts = 5
)

// Output formats
const (
	OutputText  = "text"
	OutputTable = "table"
	OutputJSON  = "json"
)

type Options struct {
	// scan
	Mode         string
	Workers      int
	IncludeRoles bool
	Store        bool
	Output       string

	// storage
	Bucket string
	Prefix string
	Table  string

	// aws
	Region      string
	MaxAttempts int

	// logging
	LogLevel  string
	LogFormat string

	// workload
	PodName    string
	Namespace  string
	KubeConfig string
}

// NewOptions returns Options populated from the environment.
func NewOptions() *Options {
	// Check KUBECONFIG env var first
	kubeconfig := ""
	if envPath := os.Getenv("KUBECONFIG"); envPath != "" {
		kubeconfig = envPath
	} else {
		home, _ := homedir.Dir()
		kubeconfig = filepath.Join(home, ".kube", "config")
	}

	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}

	return &Options{
		Mode:         envOr("IAMGUARD_MODE", types.ModeAccount),
		Workers:      envInt("IAMGUARD_WORKERS", 1),
		IncludeRoles: envBool("IAMGUARD_INCLUDE_ROLES"),
		Output:       OutputText,
		Bucket:       os.Getenv("RESULTS_BUCKET"),
		Prefix:       envOr("RESULTS_PREFIX", DefaultPrefix),
		Table:        os.Getenv("TABLE"),
		Region:       region,
		MaxAttempts:  envInt("IAMGUARD_MAX_ATTEMPTS", DefaultMaxAttempts),
		LogLevel:     envOr("LOG_LEVEL", "info"),
		LogFormat:    envOr("LOG_FORMAT", "text"),
		Namespace:    "default",
		KubeConfig:   kubeconfig,
	}
}

// Validate checks the options shared by every scan.
func (o *Options) Validate() error {
	var result *multierror.Error

	if o.Mode != types.ModeAccount && o.Mode != types.ModeIdentity {
		result = multierror.Append(result, fmt.Errorf("unknown scan mode %q", o.Mode))
	}
	if o.Workers < 1 {
		result = multierror.Append(result, fmt.Errorf("workers must be at least 1, got %d", o.Workers))
	}
	if o.MaxAttempts < 1 {
		result = multierror.Append(result, fmt.Errorf("max attempts must be at least 1, got %d", o.MaxAttempts))
	}
	switch o.Output {
	case OutputText, OutputTable, OutputJSON:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown output format %q", o.Output))
	}

	return result.ErrorOrNil()
}

// ValidateStore checks the options needed to persist a report.
func (o *Options) ValidateStore() error {
	var result *multierror.Error

	if err := o.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if o.Bucket == "" {
		result = multierror.Append(result, fmt.Errorf("results bucket is not set (RESULTS_BUCKET)"))
	}

	return result.ErrorOrNil()
}

// ValidateTable checks the options needed by the item service.
func (o *Options) ValidateTable() error {
	if o.Table == "" {
		return fmt.Errorf("table name is not set (TABLE)")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
