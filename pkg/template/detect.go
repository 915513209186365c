package template

import "strings"

// Delimiters that mark a value as a dynamic expression.
const (
	ExpressionDelimiter = "{{"
	StatementDelimiter  = "{%"
)

// IsTemplate reports whether value contains dynamic-expression syntax.
// The empty string is never a template.
func IsTemplate(value string) bool {
	if value == "" {
		return false
	}
	return strings.Contains(value, ExpressionDelimiter) ||
		strings.Contains(value, StatementDelimiter)
}

// IsTemplateAny is IsTemplate for untyped configuration values.
// Only strings can be templates; nil and every other type report false.
func IsTemplateAny(value any) bool {
	s, ok := value.(string)
	return ok && IsTemplate(s)
}
