// internal/agent/prompts.go
package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
)

func formatMemories(records []schemas.MemoryRecord) string {
	if len(records) == 0 {
		return "None."
	}
	var b strings.Builder
	for _, rec := range records {
		fmt.Fprintf(&b, "- [%s] %s\n", rec.Kind, rec.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatElements(elements []schemas.PageElement) string {
	if len(elements) == 0 {
		return "None."
	}
	var b strings.Builder
	for _, e := range elements {
		fmt.Fprintf(&b, "- %s: %s\n", e.Name, e.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTextBlocks(blocks []schemas.TextBlock) string {
	if len(blocks) == 0 {
		return "None."
	}
	var parts []string
	for _, block := range blocks {
		switch block.Type {
		case "heading":
			parts = append(parts, "HEADING: "+block.Text)
		case "list":
			parts = append(parts, "LIST:\n  * "+strings.Join(block.Items, "\n  * "))
		default:
			parts = append(parts, "PARAGRAPH: "+block.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func buildPerceptionPrompt(sess *Session, obs *schemas.PageObservation, memories []schemas.MemoryRecord) string {
	return fmt.Sprintf(`You are the PERCEIVE module of a web browsing agent. Carefully observe the current web page and generate meaningful observations.

The web page is at URL: %s
Title: %s

CLICKABLE ELEMENTS:
%s

INPUT ELEMENTS:
%s

TEXT CONTENT:
%s

RELEVANT MEMORIES:
%s

List the observations most relevant to a user with this profile:
%s

Their current goal is: %s

Generate 3-7 observations noting important features, content, options, or potential issues on the page. Prefer what is new or changed relative to the memories above.

Output as a JSON object: {"observations": ["<obs1>", "<obs2>", ...]}`,
		obs.URL, obs.Title,
		formatElements(obs.Clickables),
		formatElements(obs.Inputs),
		formatTextBlocks(obs.TextBlocks),
		formatMemories(memories),
		sess.Persona.Describe(),
		sess.Intent)
}

func buildPlanningPrompt(sess *Session, memories []schemas.MemoryRecord) string {
	previous := "None yet."
	if sess.Plan.NextStep != "" || len(sess.Plan.Steps) > 0 {
		previous = sess.Plan.Render()
	}
	return fmt.Sprintf(`You are the PLANNING module of a web browsing agent with the following persona:
%s

INTENT:
%s

RELEVANT MEMORIES:
%s

PREVIOUS PLAN:
%s

Based on the persona, intent, and memories, create or update a plan to accomplish the goal. Think step by step about the most effective way to navigate the website. Be specific about what to do next. If the memories show the goal has already been accomplished, set "task_complete" to true and leave "next_step" empty.

Output as a JSON object:
{
  "rationale": "Why this plan makes sense given the current situation",
  "steps": ["Step 1 ...", "Step 2 ...", "Step 3 ..."],
  "next_step": "The single specific action to execute now",
  "task_complete": false
}

Your output MUST be valid JSON.`,
		sess.Persona.Describe(), sess.Intent,
		formatMemories(memories), previous)
}

func buildActionPrompt(sess *Session, nextStep string, obs *schemas.PageObservation, memories []schemas.MemoryRecord) string {
	return fmt.Sprintf(`You are the ACTION module of a web browsing agent. Translate the current plan step into specific actions executable on the web page.

PERSONA:
%s

INTENT:
%s

CURRENT PLAN STEP:
%s

ENVIRONMENT:
URL: %s
Title: %s

CLICKABLE ELEMENTS:
%s

INPUT ELEMENTS:
%s

RELEVANT MEMORIES:
%s

Translate the current plan step into ONE specific action. Choose from these action types:
1. click - Click a clickable element (set target_name)
2. input - Enter text into an input element (set target_name and value)
3. scroll - Scroll the page (value: "up" or "down")
4. hover - Hover over an element (set target_name)
5. navigate - Go to a specific URL (set value)
6. wait - Wait for a number of seconds (set value)

target_name MUST be copied exactly from the element lists above.

Output as a JSON object with a SINGLE action:
{
  "actions": [
    {
      "type": "click|input|scroll|hover|navigate|wait",
      "target_name": "element name for click/input/hover",
      "value": "text to input, scroll direction, URL, or seconds",
      "description": "What this action accomplishes"
    }
  ]
}

Your output MUST be valid JSON.`,
		sess.Persona.Describe(), sess.Intent, nextStep,
		obs.URL, obs.Title,
		formatElements(obs.Clickables),
		formatElements(obs.Inputs),
		formatMemories(memories))
}

func buildReflectionPrompt(sess *Session, memories []schemas.MemoryRecord) string {
	return fmt.Sprintf(`You are the REFLECTION module of a web browsing agent. Generate high-level insights based on recent memories and the agent's persona.

PERSONA:
%s

INTENT:
%s

RECENT MEMORIES:
%s

Generate 3-5 thoughtful reflections about the experience so far. These should be higher-level thoughts connecting observations and actions to the persona's characteristics and goals.

Examples:
- "I'm finding this site's navigation confusing since there are too many options, which is frustrating given my limited technical experience."
- "The product descriptions are very detailed, which I appreciate as someone who likes to make informed decisions."

Output as a JSON object:
{"insights": ["reflection 1", "reflection 2", "reflection 3"]}

Your output MUST be valid JSON.`,
		sess.Persona.Describe(), sess.Intent, formatMemories(memories))
}

func buildWonderPrompt(sess *Session, memories []schemas.MemoryRecord) string {
	return fmt.Sprintf(`You are the WONDER module of a web browsing agent. Generate spontaneous thoughts, curiosities, and questions that might cross the persona's mind.

PERSONA:
%s

INTENT:
%s

RECENT MEMORIES:
%s

Generate 0-3 random thoughts or questions that might naturally occur to this persona. It is fine to return none.

Examples:
- "I wonder if they offer free shipping for orders over a certain amount?"
- "Would the blue color option match my living room better than the gray one?"

Output as a JSON object:
{"thoughts": ["thought 1", "thought 2"]}

Your output MUST be valid JSON.`,
		sess.Persona.Describe(), sess.Intent, formatMemories(memories))
}
