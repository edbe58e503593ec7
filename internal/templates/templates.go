// Package templates substitutes dashboard template variables into query text.
package templates

import (
	"regexp"
	"strings"
	"sync"

	"pagequery/internal/domain"
)

// FormatFunc renders a variable value into query text.
type FormatFunc func(v domain.VariableValue) string

// variablePattern matches $name, ${name}, ${name:format} and [[name]].
var variablePattern = regexp.MustCompile(`\$(\w+)|\$\{(\w+)(?::(\w+))?\}|\[\[(\w+)\]\]`)

// Service holds the global variables of a dashboard.
type Service struct {
	mu   sync.RWMutex
	vars domain.ScopedVars
}

// NewService returns a Service seeded with vars.
func NewService(vars domain.ScopedVars) *Service {
	s := &Service{vars: domain.ScopedVars{}}
	for k, v := range vars {
		s.vars[k] = v
	}
	return s
}

// Set defines or replaces a global variable.
func (s *Service) Set(name string, v domain.VariableValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = v
}

// Replace substitutes variables in target. Scoped variables shadow global
// ones. Unknown variables are left untouched so backend macros such as
// $__timeFilter survive. When format is nil, single values render as their
// text and multi values as {a,b}.
func (s *Service) Replace(target string, scoped domain.ScopedVars, format FormatFunc) string {
	if target == "" {
		return target
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return variablePattern.ReplaceAllStringFunc(target, func(match string) string {
		groups := variablePattern.FindStringSubmatch(match)
		name := firstNonEmpty(groups[1], groups[2], groups[4])
		v, ok := scoped[name]
		if !ok {
			v, ok = s.vars[name]
		}
		if !ok {
			return match
		}
		if groups[3] != "" {
			return formatNamed(groups[3], v)
		}
		if format != nil {
			return format(v)
		}
		return defaultFormat(v)
	})
}

// QuoteMulti renders single values as-is and multi values as a comma
// separated list of quoted SQL literals.
func QuoteMulti(v domain.VariableValue) string {
	if !v.IsMulti() {
		return singleText(v)
	}
	quoted := make([]string, len(v.Values))
	for i, s := range v.Values {
		quoted[i] = domain.QuoteLiteral(s)
	}
	return strings.Join(quoted, ",")
}

// Without returns a copy of vars lacking the named entries.
func Without(vars domain.ScopedVars, names ...string) domain.ScopedVars {
	out := make(domain.ScopedVars, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	for _, n := range names {
		delete(out, n)
	}
	return out
}

func defaultFormat(v domain.VariableValue) string {
	if v.IsMulti() {
		return "{" + strings.Join(v.Values, ",") + "}"
	}
	return singleText(v)
}

func formatNamed(name string, v domain.VariableValue) string {
	values := v.Values
	if len(values) == 0 {
		values = []string{v.Text}
	}
	switch name {
	case "csv":
		return strings.Join(values, ",")
	case "sqlstring":
		quoted := make([]string, len(values))
		for i, s := range values {
			quoted[i] = domain.QuoteLiteral(s)
		}
		return strings.Join(quoted, ",")
	case "raw":
		return singleText(v)
	default:
		return defaultFormat(v)
	}
}

func singleText(v domain.VariableValue) string {
	if v.Text == "" && len(v.Values) == 1 {
		return v.Values[0]
	}
	return v.Text
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
