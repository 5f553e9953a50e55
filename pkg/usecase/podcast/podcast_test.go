package podcast_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/castmate/pkg/model"
	"github.com/m-mizutani/castmate/pkg/usecase/podcast"
	"github.com/m-mizutani/gt"
)

type mockGenerator struct {
	prompts []string
	resp    string
	err     error
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	return m.resp, nil
}

func TestGenerateIdeasPrompt(t *testing.T) {
	gen := &mockGenerator{resp: "1. Small Town Secrets"}
	uc := podcast.New(gen)

	out, err := uc.GenerateIdeas(context.Background(), " true crime in small towns ", "Ep1; Ep2")
	gt.NoError(t, err)
	gt.Equal(t, out, "1. Small Town Secrets")
	gt.A(t, gen.prompts).Length(1)

	prompt := gen.prompts[0]
	gt.S(t, prompt).Contains("Theme: true crime in small towns")
	gt.S(t, prompt).Contains("Previous episodes: Ep1; Ep2")
	gt.S(t, prompt).Contains("Generate 3 unique and engaging podcast episode ideas")
	gt.S(t, prompt).Contains("A catchy title")
	gt.S(t, prompt).Contains("A brief description (2-3 sentences)")
	gt.S(t, prompt).Contains("1-2 potential guest types or specific topics")
}

func TestGenerateIdeasWithoutHistory(t *testing.T) {
	gen := &mockGenerator{resp: "ideas"}
	uc := podcast.New(gen)

	_, err := uc.GenerateIdeas(context.Background(), "space", "")
	gt.NoError(t, err)
	gt.S(t, gen.prompts[0]).NotContains("Previous episodes")
}

func TestCreateScriptPrompt(t *testing.T) {
	gen := &mockGenerator{resp: "INTRO..."}
	uc := podcast.New(gen)

	out, err := uc.CreateScript(context.Background(), "Episode 5", "Interview prep", "30 min")
	gt.NoError(t, err)
	gt.Equal(t, out, "INTRO...")

	prompt := gen.prompts[0]
	gt.S(t, prompt).Contains("Episode Title: Episode 5")
	gt.S(t, prompt).Contains("Outline: Interview prep")
	gt.S(t, prompt).Contains("Target Duration: 30 min")
	gt.S(t, prompt).Contains("Introduction (greeting, episode overview)")
	gt.S(t, prompt).Contains("Main content sections (3-4 key topics)")
	gt.S(t, prompt).Contains("Transition phrases between sections")
	gt.S(t, prompt).Contains("Conclusion and call to action")
	gt.S(t, prompt).Contains("conversational")
}

func TestCreateScriptTitleOnly(t *testing.T) {
	gen := &mockGenerator{resp: "ok"}
	uc := podcast.New(gen)

	_, err := uc.CreateScript(context.Background(), "Solo Episode", "", "")
	gt.NoError(t, err)
	gt.S(t, gen.prompts[0]).NotContains("Outline:")
	gt.S(t, gen.prompts[0]).NotContains("Target Duration:")
}

func TestGenerationFailureIsNotRetried(t *testing.T) {
	gen := &mockGenerator{err: context.DeadlineExceeded}
	uc := podcast.New(gen)

	_, err := uc.GenerateIdeas(context.Background(), "space", "")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrProviderUnavailable))
	gt.A(t, gen.prompts).Length(1)
}
