// Package jmespath reduces a decoded JSON payload with a JMESPath
// expression, used by the tool subsystem to apply a REST tool's
// outputPath before handing a response back to the agent (spec §4.9 step
// 6: "apply outputPath (JMESPath) to reduce payload").
package jmespath

import (
	"github.com/jmespath/go-jmespath"

	"ailoy/internal/aerr"
)

// Search evaluates expr against data (typically the result of
// json.Unmarshal into map[string]any / []any / a scalar) and returns the
// reduced value. A malformed expression is a validation error.
func Search(expr string, data any) (any, error) {
	out, err := jmespath.Search(expr, data)
	if err != nil {
		return nil, aerr.Wrap(aerr.Validation, err, "jmespath: evaluate %q", expr)
	}
	return out, nil
}
