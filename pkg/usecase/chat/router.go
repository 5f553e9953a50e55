package chat

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/m-mizutani/castmate/pkg/model"
	"github.com/m-mizutani/castmate/pkg/policy"
	"github.com/m-mizutani/castmate/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

//go:embed prompt/assistant.md
var assistantPromptRaw string

var assistantPromptTmpl = template.Must(template.New("assistant").Parse(assistantPromptRaw))

const (
	// messages at or below this many characters are not worth remembering
	minStoredMessageLen = 10
	// responses at or below this many characters are not worth remembering
	minStoredResponseLen = 50
	// stored responses keep only this many leading characters
	responseExcerptLen = 200

	responsePrefix = "Assistant provided: "
	responseSuffix = "..."
)

// HelpText is returned for a command prefix without usable arguments
const HelpText = `I couldn't understand that command. Try one of these:

  generate ideas: <theme>
      e.g. "generate ideas: true crime in small towns"

  create script: <title>[: <outline>[: <duration> min]]
      e.g. "create script: Episode 5: Interview prep: 30 min"

Anything else is answered as a regular question.`

// MemoryStore is the part of the memory service the router needs
type MemoryStore interface {
	Retrieve(ctx context.Context, owner model.OwnerID, query string) ([]*model.Memory, error)
	Store(ctx context.Context, owner model.OwnerID, content string, category model.Category) (*model.Memory, error)
}

// Writer produces podcast content from prompts
type Writer interface {
	GenerateIdeas(ctx context.Context, theme, previousEpisodes string) (string, error)
	CreateScript(ctx context.Context, title, outline, duration string) (string, error)
	Ask(ctx context.Context, prompt string) (string, error)
}

// Router dispatches chat messages to the idea, script or general branch
// and records what is worth remembering
type Router struct {
	memory    MemoryStore
	writer    Writer
	admission *policy.Admission
}

// RouterOption is a functional option for Router
type RouterOption func(*Router)

// WithAdmission sets the policy that filters memories before they are stored
func WithAdmission(a *policy.Admission) RouterOption {
	return func(r *Router) {
		r.admission = a
	}
}

// NewRouter creates a new Router
func NewRouter(memory MemoryStore, writer Writer, opts ...RouterOption) *Router {
	r := &Router{
		memory: memory,
		writer: writer,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reply is the outcome of handling one message
type Reply struct {
	Text     string
	Command  Command
	Recalled []*model.Memory
	Stored   []*model.Memory
}

// Handle answers message on behalf of owner. Only generation failures are
// returned as errors; memory failures are logged and the reply still goes out.
func (r *Router) Handle(ctx context.Context, owner model.OwnerID, message string) (*Reply, error) {
	logger := logging.From(ctx).With("owner_id", owner)
	ctx = logging.With(ctx, logger)

	cmd := Classify(message)
	reply := &Reply{Command: cmd}

	if m, ok := cmd.(MalformedCommand); ok {
		logger.Info("malformed command", "error", m.Err())
		reply.Text = HelpText
		return reply, nil
	}

	recalled, err := r.memory.Retrieve(ctx, owner, message)
	if err != nil {
		logger.Warn("failed to retrieve memories, continuing without them", "error", err)
		recalled = []*model.Memory{}
	}
	reply.Recalled = recalled

	var category model.Category
	switch c := cmd.(type) {
	case IdeaRequest:
		category = model.CategoryTheme
		text, err := r.writer.GenerateIdeas(ctx, c.Theme, previousEpisodes(recalled))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to generate ideas", goerr.V("theme", c.Theme))
		}
		reply.Text = text
		r.remember(ctx, owner, reply, "Podcast theme: "+c.Theme, category, policy.SourceTheme)

	case ScriptRequest:
		category = model.CategoryEpisode
		text, err := r.writer.CreateScript(ctx, c.Title, c.Outline, c.Duration)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create script", goerr.V("title", c.Title))
		}
		reply.Text = text
		r.remember(ctx, owner, reply, "Created episode: "+c.Title, category, policy.SourceEpisode)

	case General:
		category = model.CategoryGeneral
		prompt, err := buildAssistantPrompt(c.Message, recalled)
		if err != nil {
			return nil, err
		}
		text, err := r.writer.Ask(ctx, prompt)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to answer message")
		}
		reply.Text = text
		if utf8.RuneCountInString(c.Message) > minStoredMessageLen {
			r.remember(ctx, owner, reply, c.Message, category, policy.SourceInput)
		}

	default:
		return nil, goerr.New("unknown command", goerr.V("command", cmd))
	}

	if utf8.RuneCountInString(reply.Text) > minStoredResponseLen {
		r.remember(ctx, owner, reply, ResponseExcerpt(reply.Text), category, policy.SourceResponse)
	}

	return reply, nil
}

// remember stores content unless policy denies it. Failures are logged only.
func (r *Router) remember(ctx context.Context, owner model.OwnerID, reply *Reply, content string, category model.Category, source policy.Source) {
	logger := logging.From(ctx)

	decision, err := r.admission.Evaluate(ctx, policy.Input{
		OwnerID:  owner,
		Category: category,
		Content:  content,
		Source:   source,
	})
	if err != nil {
		logger.Warn("memory policy failed, skipping store", "error", err, "source", source)
		return
	}
	if !decision.Allowed {
		logger.Info("memory denied by policy", "source", source, "reasons", decision.Reasons)
		return
	}

	mem, err := r.memory.Store(ctx, owner, content, category)
	if err != nil {
		logger.Warn("failed to store memory", "error", err, "source", source)
		return
	}
	reply.Stored = append(reply.Stored, mem)
}

// ResponseExcerpt is the stored form of an assistant response: a prefix,
// the first 200 characters and an ellipsis
func ResponseExcerpt(text string) string {
	excerpt := text
	if utf8.RuneCountInString(text) > responseExcerptLen {
		runes := []rune(text)
		excerpt = string(runes[:responseExcerptLen])
	}
	return responsePrefix + excerpt + responseSuffix
}

// previousEpisodes lists up to three recalled episode memories
func previousEpisodes(memories []*model.Memory) string {
	var episodes []string
	for _, m := range memories {
		if m.Category != model.CategoryEpisode {
			continue
		}
		episodes = append(episodes, m.Content)
		if len(episodes) == 3 {
			break
		}
	}
	return strings.Join(episodes, "; ")
}

func buildAssistantPrompt(message string, memories []*model.Memory) (string, error) {
	var buf bytes.Buffer
	if err := assistantPromptTmpl.Execute(&buf, map[string]any{
		"Message":  message,
		"Memories": memories,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute assistant prompt template")
	}
	return buf.String(), nil
}
