// internal/persona/generator_test.go
package persona

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/usersim-cli/api/schemas"
)

// scriptedLLM replays canned responses and records the prompts it saw.
type scriptedLLM struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (s *scriptedLLM) Generate(_ context.Context, req schemas.GenerationRequest) (string, error) {
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, req.UserPrompt)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return "", errors.New("script exhausted")
}

func (s *scriptedLLM) Close() error { return nil }

const validPersonaJSON = `{
  "name": "Maria Chen",
  "age": 42,
  "occupation": "School Librarian",
  "tech_literacy": "Beginner",
  "traits": ["Methodical", "Cautious"],
  "goals": ["Renew library subscriptions online"],
  "pain_points": ["Small touch targets"],
  "background": "Runs the catalog of a middle school library."
}`

func TestGenerateParsesModelResponse(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"```json\n" + validPersonaJSON + "\n```"}}
	g := NewGenerator(llm, zaptest.NewLogger(t))

	p, err := g.Generate(context.Background(), schemas.PersonaConstraints{})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "Maria Chen", p.Name)
	assert.Equal(t, 42, p.Age)
	assert.Equal(t, "beginner", p.TechLiteracy)
	assert.Equal(t, []string{"Methodical", "Cautious"}, p.Traits)
}

func TestGenerateFallsBackOnModelError(t *testing.T) {
	llm := &scriptedLLM{errs: []error{errors.New("provider down")}}
	g := NewGenerator(llm, zaptest.NewLogger(t))

	p, err := g.Generate(context.Background(), schemas.PersonaConstraints{})
	require.NoError(t, err)
	assert.Equal(t, "Alex Johnson", p.Name)
	assert.Equal(t, "intermediate", p.TechLiteracy)
}

func TestGenerateFallsBackOnGarbage(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{name: "not json", response: "I cannot do that."},
		{name: "missing name", response: `{"age": 30}`},
		{name: "zero age", response: `{"name": "Ghost", "age": 0}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			llm := &scriptedLLM{responses: []string{tc.response}}
			g := NewGenerator(llm, zaptest.NewLogger(t))

			p, err := g.Generate(context.Background(), schemas.PersonaConstraints{})
			require.NoError(t, err)
			assert.Equal(t, "Alex Johnson", p.Name)
		})
	}
}

func TestGenerateRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	llm := &scriptedLLM{errs: []error{context.Canceled}}
	g := NewGenerator(llm, zaptest.NewLogger(t))

	_, err := g.Generate(ctx, schemas.PersonaConstraints{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestGeneratePromptCarriesConstraints(t *testing.T) {
	llm := &scriptedLLM{responses: []string{validPersonaJSON}}
	g := NewGenerator(llm, zaptest.NewLogger(t))

	_, err := g.Generate(context.Background(), schemas.PersonaConstraints{
		AgeRange:       "51-70",
		TechExperience: "Beginner",
		PriorNames:     []string{"Sam Okafor"},
	})
	require.NoError(t, err)
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "Age range: 51-70")
	assert.Contains(t, llm.prompts[0], "Tech experience level: Beginner")
	assert.Contains(t, llm.prompts[0], "Sam Okafor")
}

func TestGenerateBatchThreadsPriorNames(t *testing.T) {
	second := `{"name": "Priya Nair", "age": 29, "occupation": "Nurse", "tech_literacy": "advanced"}`
	llm := &scriptedLLM{responses: []string{validPersonaJSON, second}}
	g := NewGenerator(llm, zaptest.NewLogger(t))

	personas, err := g.GenerateBatch(context.Background(), 2, schemas.PersonaConstraints{})
	require.NoError(t, err)
	require.Len(t, personas, 2)
	assert.Equal(t, "Maria Chen", personas[0].Name)
	assert.Equal(t, "Priya Nair", personas[1].Name)

	// The second prompt must name the first persona.
	require.Len(t, llm.prompts, 2)
	assert.NotContains(t, llm.prompts[0], "Maria Chen")
	assert.Contains(t, llm.prompts[1], "Maria Chen")
}
