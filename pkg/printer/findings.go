package printer

import (
	"fmt"
	"strings"

	"github.com/berkguzel/iamguard/pkg/types"
	"github.com/fatih/color"
)

var (
	green     = color.New(color.FgGreen).SprintFunc()
	yellow    = color.New(color.FgYellow).SprintFunc()
	red       = color.New(color.FgRed).SprintFunc()
	bold      = color.New(color.Bold).SprintFunc()
	checkmark = green("✅")
	warning   = yellow("⚠️")
	danger    = red("❌")
	lock      = bold("🔒")
)

// subjectLabel names the first half of a flagged pair.
func subjectLabel(e types.Entry) string {
	kind := types.IdentityKind("")
	switch {
	case e.Finding != nil:
		kind = e.Finding.IdentityKind
	case e.Error != nil:
		kind = e.Error.IdentityKind
	}

	switch kind {
	case types.IdentityUser:
		return "User"
	case types.IdentityRole:
		return "Role"
	}
	return "Policy"
}

// formatPair renders an entry as its (identity-or-policy, display-name) pair.
func formatPair(e types.Entry) string {
	label := subjectLabel(e)
	if label == "Policy" {
		return fmt.Sprintf("Policy: %s | Name: %s", e.Subject(), e.PolicyName())
	}
	return fmt.Sprintf("%s: %s | Policy: %s", label, e.Subject(), e.PolicyName())
}

func icon(f *types.Finding) string {
	switch {
	case f.Inline:
		return warning
	case f.WildcardAction && f.WildcardResource:
		return danger
	default:
		return warning
	}
}

// determineScope describes which wildcard tests a finding tripped.
func determineScope(f *types.Finding) string {
	switch {
	case f.Inline:
		return "Inline"
	case f.WildcardAction && f.WildcardResource:
		return "Action+Resource"
	case f.WildcardAction:
		return "Action"
	case f.WildcardResource:
		return "Resource"
	}
	return "-"
}

func determineConditions(f *types.Finding) string {
	if !f.HasCondition {
		return "No"
	}
	return strings.Join(f.ConditionKeys, ",")
}

// formatValue renders a raw action or resource field, which may be a
// string or a list.
func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return formatResource(t)
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, formatValue(item))
		}
		return strings.Join(parts, ",")
	case []string:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, formatResource(item))
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}

func formatResource(resource string) string {
	if resource == "*" {
		return "all"
	}
	return resource
}
