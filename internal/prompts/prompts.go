// Package prompts implements prompt template rendering: substituting
// {{variable}} placeholders from a caller-supplied variables map and
// {{context.variable}} placeholders from a separate context map, against
// the registry's prompt descriptors.
//
// Grounded on the teacher's regexp-based placeholder substitution in
// cli/internal/adapters/secondary/prompts/prompt_loader.go, narrowed from
// file-backed markdown prompt loading to the two-namespace ({{x}} vs
// {{context.x}}) substitution this manifest's prompt descriptors need.
package prompts

import (
	"fmt"
	"regexp"
	"strings"

	"toolmesh/internal/descriptor"
	stderrors "toolmesh/internal/errors"
	"toolmesh/internal/validation"
)

var placeholder = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Render substitutes every {{name}} placeholder in template from variables
// and every {{context.name}} placeholder from ctx. A placeholder with no
// matching entry in the relevant map is left unresolved rather than
// silently dropped, so a caller can tell a missing variable from an empty
// string. Rendering is pure and deterministic: the same template,
// variables, and ctx always produce the same output, which is what makes
// re-rendering an already-rendered template a no-op.
func Render(template string, variables, ctx map[string]interface{}) (string, error) {
	var missing []string

	out := placeholder.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])

		if rest, ok := strings.CutPrefix(name, "context."); ok {
			if v, ok := ctx[rest]; ok {
				return fmt.Sprint(v)
			}
			missing = append(missing, "context."+rest)
			return match
		}

		if v, ok := variables[name]; ok {
			return fmt.Sprint(v)
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		details := make(stderrors.Details, len(missing))
		for _, m := range missing {
			details[m] = "no value supplied for this placeholder"
		}
		return out, stderrors.NewInvalidInput("prompt template has unresolved placeholders", details)
	}

	return out, nil
}

// RenderEntry validates variables/ctx against a prompt's declared schemas
// before rendering its template, failing closed on any schema violation
// rather than substituting an unvalidated value into the template.
func RenderEntry(desc *descriptor.PromptDescriptor, variables, ctx map[string]interface{}) (string, error) {
	if err := validation.ValidateInput(desc.VariableSchemas, variables); err != nil {
		return "", err
	}
	if err := validation.ValidateInput(desc.ContextSchema, ctx); err != nil {
		return "", err
	}
	return Render(desc.Template, variables, ctx)
}
