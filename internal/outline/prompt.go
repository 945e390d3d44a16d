package outline

import (
	"encoding/json"
	"fmt"
	"strings"
)

const outlinePromptTemplate = `You are identifying semantic sections in a structured document (e.g., a rulebook or textbook).
Your job is ONLY to produce a structural outline with line-number boundaries. Do not summarize.

Return ONLY valid JSON (no markdown), with this shape:
{
  "schema": "semantic_outline_v1",
  "units": [
    { "path": ["Rule 1", "Section 1.1"], "title": "Title here", "start_line": 123 }
  ]
}

Constraints:
- start_line MUST be an integer line number between 1 and %d.
- Choose start_line values that represent the start of a semantic unit (Rule/Section/Article/Chapter/etc).
- Produce up to %d units.
- Prefer leaf-level units (the smallest useful study sections).
- VERY IMPORTANT: The text includes explicit page markers like "<<<PAGE 12>>>". Chunks should almost never span pages.
  - Prefer choosing start_line values shortly AFTER a page marker line.
  - If you are unsure, pick boundaries so that each page starts a new unit (one unit per page).
  - Do not create a unit that would require spanning across a page marker unless the page is clearly continuing the same section.
- If you cannot find clear structure, still return units by meaningful topical breaks.
- Do NOT invent structure; only choose boundaries that are clearly indicated in the provided lines.

USER_HINT_ABOUT_STRUCTURE:
%s

DOCUMENT_LINES (each line is prefixed with its line number):
%s`

func outlinePrompt(numberedText, userHint string, maxUnits, lineCount int) string {
	hint := strings.TrimSpace(userHint)
	if hint == "" {
		hint = "None."
	}
	return fmt.Sprintf(outlinePromptTemplate, lineCount, maxUnits, hint, numberedText)
}

// outlineSchema builds the JSON schema used to constrain the model's
// structured output for the outline request.
func outlineSchema(lineCount int) json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"schema": map[string]any{
				"type": "string",
				"enum": []string{"semantic_outline_v1"},
			},
			"units": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"path": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
						"title": map[string]any{"type": "string"},
						"start_line": map[string]any{
							"type":    "integer",
							"minimum": 1,
							"maximum": lineCount,
						},
					},
					"required": []string{"path", "title", "start_line"},
				},
			},
		},
		"required": []string{"schema", "units"},
	}
	raw, _ := json.Marshal(schema)
	return raw
}
