package types

import (
	"encoding/json"
	"fmt"
)

const (
	EffectAllow = "Allow"
	EffectDeny  = "Deny"

	// InlinePolicyName is the display name of the sentinel finding emitted
	// for an identity that carries inline policies.
	InlinePolicyName = "[Inline Policy]"

	// ErrorNote is attached to every ErrorRecord produced by the scanner.
	ErrorNote = "Failed to parse or retrieve policy version"
)

// Scan modes
const (
	ModeAccount  = "account"
	ModeIdentity = "identity"
)

type IdentityKind string

const (
	IdentityUser IdentityKind = "user"
	IdentityRole IdentityKind = "role"
)

type Identity struct {
	Name string
	Kind IdentityKind
}

// PolicyRef points at a managed policy. DefaultVersionID may be empty when
// the listing did not return it.
type PolicyRef struct {
	Arn              string
	Name             string
	DefaultVersionID string
}

// PolicyDocument is a decoded IAM policy. Statement is either a single
// statement object or an array of them.
type PolicyDocument struct {
	Version   string      `json:"Version,omitempty"`
	Statement interface{} `json:"Statement,omitempty"`
}

// Statement is a normalized policy statement.
type Statement struct {
	Index       int
	Sid         string
	Effect      string
	Actions     []string
	Resources   []string
	Condition   map[string]interface{}
	RawAction   interface{}
	RawResource interface{}
}

// Finding describes one over-permissive statement, or the inline policy
// sentinel of an identity.
type Finding struct {
	Identity          string       `json:"identity,omitempty"`
	IdentityKind      IdentityKind `json:"identity_kind,omitempty"`
	PolicyArn         string       `json:"policy_arn,omitempty"`
	PolicyName        string       `json:"policy_name"`
	StatementIndex    int          `json:"statement_index,omitempty"`
	Sid               string       `json:"sid,omitempty"`
	WildcardAction    bool         `json:"wildcard_action"`
	WildcardResource  bool         `json:"wildcard_resource"`
	HasCondition      bool         `json:"has_condition"`
	ConditionKeys     []string     `json:"condition_keys"`
	Action            interface{}  `json:"action,omitempty"`
	Resource          interface{}  `json:"resource,omitempty"`
	Effect            string       `json:"effect,omitempty"`
	Inline            bool         `json:"inline,omitempty"`
	InlinePolicyNames []string     `json:"inline_policy_names,omitempty"`
}

// ErrorRecord stands in for the findings of a policy whose content could
// not be retrieved or decoded.
type ErrorRecord struct {
	Identity     string       `json:"identity,omitempty"`
	IdentityKind IdentityKind `json:"identity_kind,omitempty"`
	PolicyArn    string       `json:"policy_arn"`
	PolicyName   string       `json:"policy_name"`
	Error        string       `json:"error"`
	Note         string       `json:"note"`
}

// Entry holds exactly one of Finding or ErrorRecord.
type Entry struct {
	Finding *Finding
	Error   *ErrorRecord
}

func FindingEntry(f Finding) Entry {
	return Entry{Finding: &f}
}

func ErrorEntry(e ErrorRecord) Entry {
	return Entry{Error: &e}
}

func (e Entry) IsError() bool {
	return e.Error != nil
}

// Subject returns the identity name in identity mode, otherwise the policy ARN.
func (e Entry) Subject() string {
	if e.Error != nil {
		if e.Error.Identity != "" {
			return e.Error.Identity
		}
		return e.Error.PolicyArn
	}
	if e.Finding != nil {
		if e.Finding.Identity != "" {
			return e.Finding.Identity
		}
		return e.Finding.PolicyArn
	}
	return ""
}

// PolicyName returns the display name of the policy the entry refers to.
func (e Entry) PolicyName() string {
	switch {
	case e.Error != nil:
		return e.Error.PolicyName
	case e.Finding != nil:
		return e.Finding.PolicyName
	}
	return ""
}

func (e Entry) MarshalJSON() ([]byte, error) {
	switch {
	case e.Error != nil:
		return json.Marshal(e.Error)
	case e.Finding != nil:
		return json.Marshal(e.Finding)
	}
	return nil, fmt.Errorf("empty entry")
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	if _, ok := probe["error"]; ok {
		var rec ErrorRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		*e = Entry{Error: &rec}
		return nil
	}

	var f Finding
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*e = Entry{Finding: &f}
	return nil
}

// ScanResult is the scanner output handed to the reporter.
type ScanResult struct {
	Mode    string  `json:"mode"`
	Entries []Entry `json:"findings"`
	Scanned int     `json:"scanned_policies"`
}

// ScanRun is the persisted report of one invocation.
type ScanRun struct {
	AccountID        string  `json:"account_id"`
	Mode             string  `json:"mode,omitempty"`
	ScannedPolicies  int     `json:"scanned_policies"`
	TotalFindings    int     `json:"total_findings"`
	GeneratedAtEpoch int64   `json:"generated_at_epoch"`
	GeneratedAtISO   string  `json:"generated_at_iso"`
	Findings         []Entry `json:"findings"`
}

// Summary is returned to the invocation trigger.
type Summary struct {
	OK        bool   `json:"ok"`
	StoredKey string `json:"stored_key"`
	Scanned   int    `json:"scanned"`
	Findings  int    `json:"findings"`
}

// PodReport is the result of scanning the IAM role bound to a pod.
type PodReport struct {
	PodName        string     `json:"pod_name"`
	Namespace      string     `json:"namespace"`
	ServiceAccount string     `json:"service_account"`
	IAMRole        string     `json:"iam_role"`
	Result         ScanResult `json:"result"`
}
