package podcast

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"

	"github.com/m-mizutani/castmate/pkg/interfaces"
	"github.com/m-mizutani/castmate/pkg/model"
	"github.com/m-mizutani/castmate/pkg/utils/logging"
	"github.com/m-mizutani/castmate/pkg/utils/retry"
	"github.com/m-mizutani/goerr/v2"
)

//go:embed prompt/ideas.md
var ideasPromptRaw string

var ideasPromptTmpl = template.Must(template.New("ideas").Parse(ideasPromptRaw))

//go:embed prompt/script.md
var scriptPromptRaw string

var scriptPromptTmpl = template.Must(template.New("script").Parse(scriptPromptRaw))

// UseCase builds podcast-specific prompts and runs them through a text generator
type UseCase struct {
	gen   interfaces.Generator
	retry retry.Policy
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithRetryPolicy sets the call timeout. Generation is never retried.
func WithRetryPolicy(p retry.Policy) Option {
	return func(uc *UseCase) {
		uc.retry = p.Once()
	}
}

// New creates a new podcast UseCase instance
func New(gen interfaces.Generator, opts ...Option) *UseCase {
	uc := &UseCase{
		gen:   gen,
		retry: retry.Default.Once(),
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// GenerateIdeas asks for three episode ideas on theme. previousEpisodes is
// optional context and may be empty.
func (uc *UseCase) GenerateIdeas(ctx context.Context, theme, previousEpisodes string) (string, error) {
	var buf bytes.Buffer
	if err := ideasPromptTmpl.Execute(&buf, map[string]any{
		"Theme":            strings.TrimSpace(theme),
		"PreviousEpisodes": strings.TrimSpace(previousEpisodes),
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute ideas prompt template")
	}

	return uc.generate(ctx, "generate_ideas", buf.String())
}

// CreateScript asks for a script template for one episode. outline and
// duration are optional.
func (uc *UseCase) CreateScript(ctx context.Context, title, outline, duration string) (string, error) {
	var buf bytes.Buffer
	if err := scriptPromptTmpl.Execute(&buf, map[string]any{
		"Title":    strings.TrimSpace(title),
		"Outline":  strings.TrimSpace(outline),
		"Duration": strings.TrimSpace(duration),
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute script prompt template")
	}

	return uc.generate(ctx, "create_script", buf.String())
}

// Ask sends a free-form prompt. Used for general conversation.
func (uc *UseCase) Ask(ctx context.Context, prompt string) (string, error) {
	return uc.generate(ctx, "ask", prompt)
}

func (uc *UseCase) generate(ctx context.Context, name, prompt string) (string, error) {
	logging.From(ctx).Debug("generating", "name", name, "prompt_length", len(prompt))

	var text string
	if err := retry.Do(ctx, uc.retry, name, func(ctx context.Context) error {
		resp, err := uc.gen.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		text = resp
		return nil
	}); err != nil {
		return "", goerr.Wrap(model.ErrProviderUnavailable, "failed to generate text",
			goerr.V("cause", err.Error()),
			goerr.V("name", name))
	}

	return text, nil
}
