package automation

import (
	"encoding/json"
	"strings"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// buildTemplateData assembles the lookup table actions and placeholders
// resolve against: {{actions.<id>.status}}, {{actions.<id>.output.<field>}},
// and the flat guest/reservation/rule placeholders (spec §4.3 step 4),
// following the shape of internal/usecase/workflow/manager.go's
// buildTemplateData, generalized from step results to action results.
func buildTemplateData(results map[string]domain.ActionResult, execCtx domain.ExecutionContext) map[string]any {
	actions := make(map[string]any, len(results))
	for id, r := range results {
		entry := map[string]any{"status": string(r.Status), "error": r.Error}
		if r.Output != nil {
			entry["output"] = r.Output
		} else {
			entry["output"] = map[string]any{}
		}
		actions[id] = entry
	}

	data := map[string]any{
		"actions":  actions,
		"ruleId":   execCtx.RuleID,
		"ruleName": execCtx.RuleName,
	}
	if g := execCtx.Guest; g != nil {
		data["firstName"] = g.FirstName
		data["lastName"] = g.LastName
	}
	if r := execCtx.Reservation; r != nil {
		data["roomNumber"] = r.RoomNumber
		data["arrivalDate"] = r.ArrivalDate.Format("2006-01-02")
		data["departureDate"] = r.DepartureDate.Format("2006-01-02")
	}
	return data
}

// substituteConfig resolves every {{placeholder}} in config's string values,
// leaving non-string values untouched. Each placeholder body must be a bare
// dotted path (the mini-AST's pathNode grammar, see expr.go); anything else
// inside {{ }} is left unresolved rather than guessed at.
func substituteConfig(config map[string]any, data map[string]any) map[string]any {
	if len(config) == 0 {
		return config
	}
	resolved := make(map[string]any, len(config))
	for k, v := range config {
		s, ok := v.(string)
		if !ok || !strings.Contains(s, "{{") {
			resolved[k] = v
			continue
		}
		resolved[k] = resolveTemplate(s, data)
	}
	return resolved
}

func resolveTemplate(input string, data map[string]any) string {
	var out strings.Builder
	rest := input
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			out.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			out.WriteString(rest)
			break
		}
		end += start
		out.WriteString(rest[:start])
		body := strings.TrimSpace(rest[start+2 : end])
		node, ok := parseGrammar(body)
		if ok {
			out.WriteString(stringify(node.eval(data)))
		} else {
			out.WriteString(rest[start : end+2])
		}
		rest = rest[end+2:]
	}
	return out.String()
}

// evaluateExpression implements the interpreted condition mini-AST (spec §9:
// "encode the supported placeholders and operators explicitly ... rather
// than regex substitution"): dotted-path lookups, string/bool literals,
// "==", "!=", "&&", "||", "!", and isNull(...). Expressions outside this
// grammar default to true with evaluated=false (spec §4.3 step 2's "warning,
// not exception"), with the caller responsible for logging it.
func evaluateExpression(expression string, data map[string]any) (ok bool, evaluated bool) {
	node, valid := parseGrammar(strings.TrimSpace(expression))
	if !valid {
		return true, false
	}
	return truthy(node.eval(data)), true
}

// marshalOutput is a small helper for dispatch implementations that need to
// hand back a map[string]any output from an arbitrary JSON-shaped value.
func marshalOutput(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
