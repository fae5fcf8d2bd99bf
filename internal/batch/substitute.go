package batch

import (
	"fmt"
	"strings"

	"github.com/csa-dev/csa/internal/csaerr"
)

// SubstituteVars replaces every ${NAME} placeholder in template with the
// matching value from vars. Unknown placeholders are left literal.
func SubstituteVars(template string, vars map[string]string) string {
	var b strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "${")
		if start == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}")
		if end == -1 {
			b.WriteString(rest)
			break
		}
		end += start
		name := rest[start+2 : end]
		b.WriteString(rest[:start])
		if v, ok := vars[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString("${" + name + "}")
		}
		rest = rest[end+1:]
	}
	return b.String()
}

// ParseVariables merges a plan's declared defaults with CLI-supplied
// NAME=VALUE overrides. A declared variable with no default and no
// override is simply absent from the result (left literal at use sites).
func ParseVariables(cliArgs []string, plan *ExecutionPlan) (map[string]string, error) {
	vars := make(map[string]string, len(plan.Variables))
	for _, decl := range plan.Variables {
		if decl.HasDefault {
			vars[decl.Name] = decl.Default
		}
	}
	for _, arg := range cliArgs {
		idx := strings.Index(arg, "=")
		if idx < 0 {
			return nil, csaerr.New(csaerr.ParseError, fmt.Sprintf("invalid variable assignment %q: expected NAME=VALUE", arg))
		}
		vars[arg[:idx]] = arg[idx+1:]
	}
	return vars, nil
}
