package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenRe = regexp.MustCompile(`{(.*?)}`)

// ResolveString substitutes {token} placeholders in a template. Tokens
// starting with $ are jsonpath lookups against data; bare tokens are keys of
// the variables map. Unresolvable tokens are left in place.
func ResolveString(template string, data map[string]any, variables map[string]any) string {
	tokens := tokenRe.FindAllString(template, -1)
	if len(tokens) == 0 {
		return template
	}
	out := template
	for _, token := range tokens {
		name := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
		var value any
		var found bool
		if strings.HasPrefix(name, "$") {
			v, err := jsonpath.JsonPathLookup(data, name)
			if err == nil {
				value, found = v, true
			}
		} else if variables != nil {
			value, found = variables[name]
		}
		if found {
			out = strings.ReplaceAll(out, token, fmt.Sprintf("%v", value))
		}
	}
	return out
}

// ResolveParams resolves every string value of params recursively, so node
// configs can reference run data ({$.trigger.customer_id}) and variables
// ({ai_response}).
func ResolveParams(params map[string]any, data map[string]any, variables map[string]any) map[string]any {
	output := make(map[string]any, len(params))
	for k, v := range params {
		output[k] = resolveValue(v, data, variables)
	}
	return output
}

func resolveValue(v any, data map[string]any, variables map[string]any) any {
	switch tv := v.(type) {
	case map[string]any:
		return ResolveParams(tv, data, variables)
	case []any:
		out := make([]any, 0, len(tv))
		for _, item := range tv {
			out = append(out, resolveValue(item, data, variables))
		}
		return out
	case string:
		return ResolveString(tv, data, variables)
	default:
		return v
	}
}
