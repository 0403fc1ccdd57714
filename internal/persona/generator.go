// internal/persona/generator.go
package persona

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
	"github.com/xkilldash9x/usersim-cli/internal/llmclient"
)

const systemPrompt = "You are a helpful assistant that generates realistic user personas for usability testing. You always answer with a single JSON object."

// Generator builds synthetic user personas with an LLM, falling back to a
// fixed profile when the model cannot produce a usable one.
type Generator struct {
	llm    schemas.LLMClient
	logger *zap.Logger
}

var _ schemas.PersonaSource = (*Generator)(nil)

func NewGenerator(llm schemas.LLMClient, logger *zap.Logger) *Generator {
	return &Generator{
		llm:    llm,
		logger: logger.Named("persona_generator"),
	}
}

// personaResponse mirrors the JSON shape the prompt asks for.
type personaResponse struct {
	Name         string   `json:"name"`
	Age          int      `json:"age"`
	Occupation   string   `json:"occupation"`
	TechLiteracy string   `json:"tech_literacy"`
	Traits       []string `json:"traits"`
	Goals        []string `json:"goals"`
	PainPoints   []string `json:"pain_points"`
	Background   string   `json:"background"`
}

// Generate produces one persona honoring the constraints. PriorNames are fed
// back into the prompt so batch generation stays diverse. A model failure or
// malformed response falls back to a deterministic default persona rather
// than failing the session.
func (g *Generator) Generate(ctx context.Context, constraints schemas.PersonaConstraints) (schemas.Persona, error) {
	req := schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildPrompt(constraints),
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     0.7,
			ForceJSONFormat: true,
		},
	}

	raw, err := g.llm.Generate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return schemas.Persona{}, ctx.Err()
		}
		g.logger.Warn("Persona generation failed, using fallback", zap.Error(err))
		return fallbackPersona(), nil
	}

	var resp personaResponse
	if err := llmclient.DecodeJSON(raw, &resp); err != nil {
		g.logger.Warn("Persona response was not valid JSON, using fallback", zap.Error(err))
		return fallbackPersona(), nil
	}
	if resp.Name == "" || resp.Age <= 0 {
		g.logger.Warn("Persona response was incomplete, using fallback",
			zap.String("name", resp.Name), zap.Int("age", resp.Age))
		return fallbackPersona(), nil
	}

	p := schemas.Persona{
		ID:           uuid.NewString(),
		Name:         resp.Name,
		Age:          resp.Age,
		Occupation:   resp.Occupation,
		TechLiteracy: normalizeLiteracy(resp.TechLiteracy),
		Traits:       resp.Traits,
		Goals:        resp.Goals,
		PainPoints:   resp.PainPoints,
		Background:   resp.Background,
	}
	g.logger.Info("Persona generated",
		zap.String("persona_id", p.ID),
		zap.String("name", p.Name),
		zap.Int("age", p.Age))
	return p, nil
}

// GenerateBatch produces count distinct personas, threading earlier names
// through the constraints of later calls.
func (g *Generator) GenerateBatch(ctx context.Context, count int, constraints schemas.PersonaConstraints) ([]schemas.Persona, error) {
	personas := make([]schemas.Persona, 0, count)
	prior := append([]string(nil), constraints.PriorNames...)
	for i := 0; i < count; i++ {
		c := constraints
		c.PriorNames = prior
		p, err := g.Generate(ctx, c)
		if err != nil {
			return personas, fmt.Errorf("generating persona %d of %d: %w", i+1, count, err)
		}
		personas = append(personas, p)
		prior = append(prior, p.Name)
	}
	return personas, nil
}

func buildPrompt(c schemas.PersonaConstraints) string {
	var constraints []string
	if c.AgeRange != "" {
		constraints = append(constraints, "Age range: "+c.AgeRange)
	}
	if c.Gender != "" {
		constraints = append(constraints, "Gender: "+c.Gender)
	}
	if c.TechExperience != "" {
		constraints = append(constraints, "Tech experience level: "+c.TechExperience)
	}
	if c.IncomeLevel != "" {
		constraints = append(constraints, "Income level: "+c.IncomeLevel)
	}
	if c.EducationLevel != "" {
		constraints = append(constraints, "Education level: "+c.EducationLevel)
	}
	constraintsText := "No specific constraints."
	if len(constraints) > 0 {
		for i, s := range constraints {
			constraints[i] = "- " + s
		}
		constraintsText = strings.Join(constraints, "\n")
	}

	priorText := "None yet."
	if len(c.PriorNames) > 0 {
		priorText = strings.Join(c.PriorNames, ", ")
	}

	var b strings.Builder
	b.WriteString("Generate a realistic user persona for usability testing of a website.\n\n")
	b.WriteString("The persona needs: a full name, a specific age, an occupation, ")
	b.WriteString("a tech literacy level (beginner, intermediate or advanced), ")
	b.WriteString("3-5 personality traits relevant to digital interaction, ")
	b.WriteString("2-4 primary goals when using websites, ")
	b.WriteString("2-4 specific frustrations with technology, ")
	b.WriteString("and a one-paragraph background.\n\n")
	b.WriteString("Constraints:\n")
	b.WriteString(constraintsText)
	b.WriteString("\n\nPersonas already generated (create someone different): ")
	b.WriteString(priorText)
	b.WriteString("\n\nReturn ONLY a JSON object with this shape:\n")
	b.WriteString(`{
  "name": "Full Name",
  "age": 35,
  "occupation": "Job Title",
  "tech_literacy": "beginner|intermediate|advanced",
  "traits": ["Trait 1", "Trait 2"],
  "goals": ["Goal 1", "Goal 2"],
  "pain_points": ["Pain point 1", "Pain point 2"],
  "background": "One paragraph."
}`)
	return b.String()
}

func normalizeLiteracy(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "beginner", "intermediate", "advanced":
		return strings.ToLower(strings.TrimSpace(s))
	}
	return "intermediate"
}

// fallbackPersona is the profile used when the model cannot deliver one.
func fallbackPersona() schemas.Persona {
	return schemas.Persona{
		ID:           uuid.NewString(),
		Name:         "Alex Johnson",
		Age:          35,
		Occupation:   "Marketing Manager",
		TechLiteracy: "intermediate",
		Traits:       []string{"Curious", "Practical", "Impatient"},
		Goals:        []string{"Find information quickly", "Stay connected", "Be productive"},
		PainPoints:   []string{"Complex navigation", "Slow loading times", "Too many options"},
		Background:   "Lives in Austin, makes research-based but time-conscious decisions, and spends about thirty hours a week online.",
	}
}
