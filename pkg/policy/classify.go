package policy

import (
	"strings"

	"github.com/berkguzel/iamguard/pkg/types"
)

// IsWildcardAction reports whether any action is "*" or a service-wide
// wildcard such as "s3:*".
func IsWildcardAction(actions []string) bool {
	for _, a := range actions {
		if a == "*" || strings.HasSuffix(a, ":*") {
			return true
		}
	}
	return false
}

// IsWildcardResource reports whether any resource is exactly "*".
// ARN patterns ending in "*" are not counted.
func IsWildcardResource(resources []string) bool {
	for _, r := range resources {
		if r == "*" {
			return true
		}
	}
	return false
}

// Classify returns a finding when stmt allows a wildcard action or a
// wildcard resource, and nil otherwise. Conditions never suppress a finding.
func Classify(stmt types.Statement, ref types.PolicyRef) *types.Finding {
	wildcardAction := IsWildcardAction(stmt.Actions)
	wildcardResource := IsWildcardResource(stmt.Resources)

	if stmt.Effect != types.EffectAllow || !(wildcardAction || wildcardResource) {
		return nil
	}

	return &types.Finding{
		PolicyArn:        ref.Arn,
		PolicyName:       ref.Name,
		StatementIndex:   stmt.Index,
		Sid:              stmt.Sid,
		WildcardAction:   wildcardAction,
		WildcardResource: wildcardResource,
		HasCondition:     len(stmt.Condition) > 0,
		ConditionKeys:    ConditionKeys(stmt),
		Action:           rawOrEmpty(stmt.RawAction),
		Resource:         rawOrEmpty(stmt.RawResource),
		Effect:           stmt.Effect,
	}
}

// ScanDocument normalizes doc and classifies each of its statements.
func ScanDocument(doc types.PolicyDocument, ref types.PolicyRef) ([]types.Finding, error) {
	statements, err := Normalize(doc)
	if err != nil {
		return nil, err
	}

	var findings []types.Finding
	for _, stmt := range statements {
		if f := Classify(stmt, ref); f != nil {
			findings = append(findings, *f)
		}
	}
	return findings, nil
}

func rawOrEmpty(v interface{}) interface{} {
	if v == nil {
		return []string{}
	}
	return v
}
