package mcp_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/castmate/pkg/model"
	"github.com/m-mizutani/castmate/pkg/service/mcp"
	"github.com/m-mizutani/castmate/pkg/usecase/chat"
	"github.com/m-mizutani/gt"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

type mockChat struct {
	HandleFunc func(ctx context.Context, owner model.OwnerID, message string) (*chat.Reply, error)
}

func (m *mockChat) Handle(ctx context.Context, owner model.OwnerID, message string) (*chat.Reply, error) {
	return m.HandleFunc(ctx, owner, message)
}

type mockWriter struct {
	GenerateIdeasFunc func(ctx context.Context, theme, previousEpisodes string) (string, error)
	CreateScriptFunc  func(ctx context.Context, title, outline, duration string) (string, error)
}

func (m *mockWriter) GenerateIdeas(ctx context.Context, theme, previousEpisodes string) (string, error) {
	return m.GenerateIdeasFunc(ctx, theme, previousEpisodes)
}

func (m *mockWriter) CreateScript(ctx context.Context, title, outline, duration string) (string, error) {
	return m.CreateScriptFunc(ctx, title, outline, duration)
}

type mockRecaller struct {
	RetrieveWithFunc func(ctx context.Context, owner model.OwnerID, query string, limit int, threshold float64) ([]*model.Memory, error)
}

func (m *mockRecaller) RetrieveWith(ctx context.Context, owner model.OwnerID, query string, limit int, threshold float64) ([]*model.Memory, error) {
	return m.RetrieveWithFunc(ctx, owner, query, limit, threshold)
}

func connect(t *testing.T, cfg mcp.Config) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()

	srv, err := mcp.NewServer(cfg)
	gt.NoError(t, err)

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, serverTransport)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })

	return cs
}

func textOf(t *testing.T, result *mcpsdk.CallToolResult) string {
	t.Helper()
	gt.A(t, result.Content).Length(1)
	text, ok := result.Content[0].(*mcpsdk.TextContent)
	gt.True(t, ok)
	return text.Text
}

func TestNewServerRequiresOwner(t *testing.T) {
	_, err := mcp.NewServer(mcp.Config{})
	gt.Error(t, err)
}

func TestListTools(t *testing.T) {
	cs := connect(t, mcp.Config{Owner: model.NewOwnerID()})

	res, err := cs.ListTools(context.Background(), nil)
	gt.NoError(t, err)

	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
		gt.True(t, tool.InputSchema != nil)
	}
	gt.A(t, res.Tools).Length(4)
	gt.True(t, names["chat"])
	gt.True(t, names["generate_ideas"])
	gt.True(t, names["create_script"])
	gt.True(t, names["recall"])
}

func TestChatTool(t *testing.T) {
	owner := model.NewOwnerID()
	var gotOwner model.OwnerID
	cs := connect(t, mcp.Config{
		Owner: owner,
		Chat: &mockChat{
			HandleFunc: func(ctx context.Context, o model.OwnerID, message string) (*chat.Reply, error) {
				gotOwner = o
				return &chat.Reply{Text: "reply to " + message}, nil
			},
		},
	})

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "chat",
		Arguments: map[string]any{"message": "hello there"},
	})
	gt.NoError(t, err)
	gt.False(t, res.IsError)
	gt.Equal(t, textOf(t, res), "reply to hello there")
	gt.Equal(t, gotOwner, owner)
}

func TestChatToolHidesErrors(t *testing.T) {
	cs := connect(t, mcp.Config{
		Owner: model.NewOwnerID(),
		Chat: &mockChat{
			HandleFunc: func(ctx context.Context, o model.OwnerID, message string) (*chat.Reply, error) {
				return nil, errors.New("upstream 500 with internal-token")
			},
		},
	})

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "chat",
		Arguments: map[string]any{"message": "hello"},
	})
	gt.NoError(t, err)
	gt.True(t, res.IsError)
	gt.S(t, textOf(t, res)).NotContains("internal-token")
}

func TestGenerateIdeasTool(t *testing.T) {
	var gotTheme, gotPrev string
	cs := connect(t, mcp.Config{
		Owner: model.NewOwnerID(),
		Writer: &mockWriter{
			GenerateIdeasFunc: func(ctx context.Context, theme, previousEpisodes string) (string, error) {
				gotTheme, gotPrev = theme, previousEpisodes
				return "1. Idea", nil
			},
		},
	})

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "generate_ideas",
		Arguments: map[string]any{"theme": "space", "previous_episodes": "Ep1"},
	})
	gt.NoError(t, err)
	gt.False(t, res.IsError)
	gt.Equal(t, textOf(t, res), "1. Idea")
	gt.Equal(t, gotTheme, "space")
	gt.Equal(t, gotPrev, "Ep1")
}

func TestCreateScriptTool(t *testing.T) {
	var got [3]string
	cs := connect(t, mcp.Config{
		Owner: model.NewOwnerID(),
		Writer: &mockWriter{
			CreateScriptFunc: func(ctx context.Context, title, outline, duration string) (string, error) {
				got = [3]string{title, outline, duration}
				return "INTRO", nil
			},
		},
	})

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "create_script",
		Arguments: map[string]any{"title": "Episode 5", "duration": "30 min"},
	})
	gt.NoError(t, err)
	gt.Equal(t, textOf(t, res), "INTRO")
	gt.Equal(t, got, [3]string{"Episode 5", "", "30 min"})

	res, err = cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "create_script",
		Arguments: map[string]any{"title": "  "},
	})
	gt.NoError(t, err)
	gt.True(t, res.IsError)
}

func TestRecallTool(t *testing.T) {
	owner := model.NewOwnerID()
	var gotLimit int
	var gotThreshold float64
	cs := connect(t, mcp.Config{
		Owner:     owner,
		Threshold: 0.7,
		Recaller: &mockRecaller{
			RetrieveWithFunc: func(ctx context.Context, o model.OwnerID, query string, limit int, threshold float64) ([]*model.Memory, error) {
				gotLimit, gotThreshold = limit, threshold
				return []*model.Memory{
					{Content: "Podcast theme: space", Category: model.CategoryTheme, Similarity: 0.9, CreatedAt: time.Now()},
				}, nil
			},
		},
	})

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "recall",
		Arguments: map[string]any{"query": "space"},
	})
	gt.NoError(t, err)
	gt.False(t, res.IsError)
	gt.Equal(t, textOf(t, res), "- Podcast theme: space")
	gt.Equal(t, gotLimit, 5)
	gt.Equal(t, gotThreshold, 0.7)
}
