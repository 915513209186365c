// Package template detects dynamic expressions in configuration values.
//
// A configuration string is a template when it contains an expression
// delimiter ("{{") or a statement delimiter ("{%"). Only templates are ever
// sent to the evaluation service; static strings are used verbatim and never
// cost a subscription.
package template
