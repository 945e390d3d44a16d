package cards

import (
	"fmt"
	"strings"
)

const generationPrompt = `You are an assistant that creates flash cards for Anki.
Return ONLY valid JSON (no markdown) as an array of objects like:
[{"front":"...","back":"..."}, ...]
Do not include any extra keys, headers, or commentary.
Create between %d and %d cards covering this section.

SECTION_TITLE:
%s

SECTION_CONTENT:
%s

USER_NOTES:
%s

USER_GUIDANCE:
%s`

// BuildGenerationPrompt embeds one approved chunk plus the user's
// guidance and the detail-level card target range.
func BuildGenerationPrompt(sectionTitle, content, guidance, notes string, minCards, maxCards int) string {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		notes = "No additional notes."
	}
	guidance = strings.TrimSpace(guidance)
	if guidance == "" {
		guidance = "Create clear, concise study cards."
	}
	if strings.TrimSpace(sectionTitle) == "" {
		sectionTitle = "Untitled section"
	}
	return fmt.Sprintf(generationPrompt, minCards, maxCards, sectionTitle, content, notes, guidance)
}

const refinementPrompt = `You are reviewing a flash card for accuracy and usefulness.
Follow the user instruction strictly. Do not add new facts.

Decide ONE action:
- "keep" (keep unchanged)
- "change" (keep but rewrite)
- "discard" (remove the card)

Return ONLY valid JSON (no markdown):
{"action":"keep|change|discard","front":"...","back":"...","reason":"..."}
- If action is "keep", front/back can be empty strings.
- If action is "change", provide the rewritten front/back.
- If action is "discard", front/back can be empty strings.

USER_INSTRUCTION:
%s

CARD_FRONT:
%s

CARD_BACK:
%s`

// BuildRefinementPrompt embeds one existing card and the user's
// free-text instruction.
func BuildRefinementPrompt(front, back, instruction string) string {
	return fmt.Sprintf(refinementPrompt, instruction, front, back)
}
