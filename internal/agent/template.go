// ABOUTME: Named-variable substitution for prompt templates
// ABOUTME: Templates use {name} placeholders filled from a string map

package agent

import "strings"

// Render substitutes {name} placeholders in tmpl with values from vars.
// Unknown placeholders are left untouched.
func Render(tmpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
