package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/berkguzel/iamguard/pkg/types"
)

// ErrMalformed is wrapped by every error caused by an unexpected document shape.
var ErrMalformed = errors.New("malformed policy document")

// ParseDocument decodes a policy document as returned by GetPolicyVersion,
// which is URL-encoded JSON.
func ParseDocument(encoded string) (types.PolicyDocument, error) {
	var doc types.PolicyDocument

	decoded, err := url.QueryUnescape(encoded)
	if err != nil {
		return doc, fmt.Errorf("%w: failed to decode policy document: %v", ErrMalformed, err)
	}

	if err := json.Unmarshal([]byte(decoded), &doc); err != nil {
		return doc, fmt.Errorf("%w: failed to parse policy document: %v", ErrMalformed, err)
	}
	return doc, nil
}

// Normalize returns the statements of doc in document order with 1-based indexes.
// A single statement object is treated as a list of one.
func Normalize(doc types.PolicyDocument) ([]types.Statement, error) {
	var raw []interface{}

	switch v := doc.Statement.(type) {
	case nil:
		return []types.Statement{}, nil
	case map[string]interface{}:
		raw = []interface{}{v}
	case []interface{}:
		raw = v
	default:
		return nil, fmt.Errorf("%w: Statement must be an object or an array, got %T", ErrMalformed, v)
	}

	statements := make([]types.Statement, 0, len(raw))
	for i, r := range raw {
		m, ok := r.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: statement %d is not an object", ErrMalformed, i+1)
		}

		stmt, err := normalizeStatement(i+1, m)
		if err != nil {
			return nil, err
		}
		statements = append(statements, stmt)
	}

	return statements, nil
}

func normalizeStatement(index int, m map[string]interface{}) (types.Statement, error) {
	stmt := types.Statement{
		Index:       index,
		Effect:      types.EffectAllow,
		Condition:   map[string]interface{}{},
		RawAction:   m["Action"],
		RawResource: m["Resource"],
	}

	if sid, ok := m["Sid"].(string); ok {
		stmt.Sid = sid
	}

	if effect, exists := m["Effect"]; exists && effect != nil {
		s, ok := effect.(string)
		if !ok {
			return stmt, fmt.Errorf("%w: statement %d has a non-string Effect", ErrMalformed, index)
		}
		stmt.Effect = s
	}

	if cond, exists := m["Condition"]; exists && cond != nil {
		c, ok := cond.(map[string]interface{})
		if !ok {
			return stmt, fmt.Errorf("%w: statement %d has a non-object Condition", ErrMalformed, index)
		}
		stmt.Condition = c
	}

	stmt.Actions = toStrings(m["Action"])
	stmt.Resources = toStrings(m["Resource"])

	return stmt, nil
}

// toStrings flattens a string or a (possibly nested) array of strings.
func toStrings(v interface{}) []string {
	out := []string{}
	switch t := v.(type) {
	case string:
		out = append(out, t)
	case []string:
		out = append(out, t...)
	case []interface{}:
		for _, item := range t {
			out = append(out, toStrings(item)...)
		}
	}
	return out
}

// ConditionKeys returns the condition operators of stmt, sorted.
func ConditionKeys(stmt types.Statement) []string {
	keys := make([]string, 0, len(stmt.Condition))
	for k := range stmt.Condition {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
