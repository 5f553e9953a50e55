package mcp

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/castmate/pkg/model"
	"github.com/m-mizutani/castmate/pkg/usecase/chat"
	"github.com/m-mizutani/castmate/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const apologyMessage = "sorry, the request could not be completed; please try again"

// Chat answers one message for an owner
type Chat interface {
	Handle(ctx context.Context, owner model.OwnerID, message string) (*chat.Reply, error)
}

// Writer produces podcast content without touching memory
type Writer interface {
	GenerateIdeas(ctx context.Context, theme, previousEpisodes string) (string, error)
	CreateScript(ctx context.Context, title, outline, duration string) (string, error)
}

// Recaller searches stored memories
type Recaller interface {
	RetrieveWith(ctx context.Context, owner model.OwnerID, query string, limit int, threshold float64) ([]*model.Memory, error)
}

// Config holds the dependencies of Server
type Config struct {
	Owner     model.OwnerID
	Chat      Chat
	Writer    Writer
	Recaller  Recaller
	Threshold float64
	Version   string
}

// Server exposes the assistant as MCP tools. Every call acts on behalf of one owner.
type Server struct {
	server    *mcp.Server
	owner     model.OwnerID
	chat      Chat
	writer    Writer
	recaller  Recaller
	threshold float64
}

type ChatInput struct {
	Message string `json:"message" jsonschema:"Message for the podcast assistant. Prefix with 'generate ideas:' or 'create script:' to run a command"`
}

type ChatOutput struct {
	Response string `json:"response"`
}

type IdeasInput struct {
	Theme            string `json:"theme" jsonschema:"Podcast theme to brainstorm episodes for"`
	PreviousEpisodes string `json:"previous_episodes,omitempty" jsonschema:"Titles of episodes already produced, separated by semicolons"`
}

type IdeasOutput struct {
	Ideas string `json:"ideas"`
}

type ScriptInput struct {
	Title    string `json:"title" jsonschema:"Episode title"`
	Outline  string `json:"outline,omitempty" jsonschema:"Short outline of the episode"`
	Duration string `json:"duration,omitempty" jsonschema:"Target duration such as '30 min'"`
}

type ScriptOutput struct {
	Script string `json:"script"`
}

type RecallInput struct {
	Query string `json:"query" jsonschema:"Text to search similar memories for"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of memories to return (default 5)"`
}

type RecalledMemory struct {
	Content    string  `json:"content"`
	Category   string  `json:"category"`
	Similarity float64 `json:"similarity"`
	CreatedAt  string  `json:"created_at"`
}

type RecallOutput struct {
	Memories []RecalledMemory `json:"memories"`
}

// NewServer creates an MCP server with chat, generate_ideas, create_script and recall tools
func NewServer(cfg Config) (*Server, error) {
	if cfg.Owner == "" {
		return nil, goerr.New("owner is required for MCP server")
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "castmate",
			Version: version,
		}, nil),
		owner:     cfg.Owner,
		chat:      cfg.Chat,
		writer:    cfg.Writer,
		recaller:  cfg.Recaller,
		threshold: cfg.Threshold,
	}

	if err := addTool(s.server, "chat",
		"Talk to the podcast research and script writing assistant. Remembers context across calls.",
		s.handleChat); err != nil {
		return nil, err
	}
	if err := addTool(s.server, "generate_ideas",
		"Generate three podcast episode ideas for a theme.",
		s.handleIdeas); err != nil {
		return nil, err
	}
	if err := addTool(s.server, "create_script",
		"Create a podcast script template for an episode.",
		s.handleScript); err != nil {
		return nil, err
	}
	if err := addTool(s.server, "recall",
		"Search memories from previous conversations.",
		s.handleRecall); err != nil {
		return nil, err
	}

	return s, nil
}

func addTool[In, Out any](server *mcp.Server, name, description string, h mcp.ToolHandlerFor[In, Out]) error {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return goerr.Wrap(err, "failed to derive tool input schema", goerr.V("tool", name))
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}, h)
	return nil
}

// Run serves over stdin/stdout until ctx is done or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "MCP server stopped")
	}
	return nil
}

// Connect serves a single session over t
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	session, err := s.server.Connect(ctx, t, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect MCP session")
	}
	return session, nil
}

// Handler serves the streamable HTTP transport
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// failed logs err and hides its details from the client
func failed(ctx context.Context, tool string, err error) error {
	logging.From(ctx).Error("MCP tool failed", "tool", tool, "error", err)
	return goerr.New(apologyMessage)
}

func (s *Server) handleChat(ctx context.Context, req *mcp.CallToolRequest, input ChatInput) (*mcp.CallToolResult, ChatOutput, error) {
	if strings.TrimSpace(input.Message) == "" {
		return nil, ChatOutput{}, goerr.New("message is required")
	}

	reply, err := s.chat.Handle(ctx, s.owner, input.Message)
	if err != nil {
		return nil, ChatOutput{}, failed(ctx, "chat", err)
	}

	return textResult(reply.Text), ChatOutput{Response: reply.Text}, nil
}

func (s *Server) handleIdeas(ctx context.Context, req *mcp.CallToolRequest, input IdeasInput) (*mcp.CallToolResult, IdeasOutput, error) {
	if strings.TrimSpace(input.Theme) == "" {
		return nil, IdeasOutput{}, goerr.New("theme is required")
	}

	ideas, err := s.writer.GenerateIdeas(ctx, input.Theme, input.PreviousEpisodes)
	if err != nil {
		return nil, IdeasOutput{}, failed(ctx, "generate_ideas", err)
	}

	return textResult(ideas), IdeasOutput{Ideas: ideas}, nil
}

func (s *Server) handleScript(ctx context.Context, req *mcp.CallToolRequest, input ScriptInput) (*mcp.CallToolResult, ScriptOutput, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, ScriptOutput{}, goerr.New("title is required")
	}

	script, err := s.writer.CreateScript(ctx, input.Title, input.Outline, input.Duration)
	if err != nil {
		return nil, ScriptOutput{}, failed(ctx, "create_script", err)
	}

	return textResult(script), ScriptOutput{Script: script}, nil
}

func (s *Server) handleRecall(ctx context.Context, req *mcp.CallToolRequest, input RecallInput) (*mcp.CallToolResult, RecallOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, RecallOutput{}, goerr.New("query is required")
	}

	limit := input.Limit
	if limit <= 0 {
		limit = 5
	}

	memories, err := s.recaller.RetrieveWith(ctx, s.owner, input.Query, limit, s.threshold)
	if err != nil {
		return nil, RecallOutput{}, failed(ctx, "recall", err)
	}

	out := RecallOutput{Memories: make([]RecalledMemory, 0, len(memories))}
	lines := make([]string, 0, len(memories))
	for _, m := range memories {
		out.Memories = append(out.Memories, RecalledMemory{
			Content:    m.Content,
			Category:   string(m.Category),
			Similarity: m.Similarity,
			CreatedAt:  m.CreatedAt.Format(time.RFC3339),
		})
		lines = append(lines, "- "+m.Content)
	}

	text := "No related memories."
	if len(lines) > 0 {
		text = strings.Join(lines, "\n")
	}
	return textResult(text), out, nil
}
