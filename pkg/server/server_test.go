package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/m-mizutani/castmate/pkg/model"
	"github.com/m-mizutani/castmate/pkg/server"
	"github.com/m-mizutani/castmate/pkg/usecase/chat"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

type mockChat struct {
	HandleFunc func(ctx context.Context, owner model.OwnerID, message string) (*chat.Reply, error)
}

func (m *mockChat) Handle(ctx context.Context, owner model.OwnerID, message string) (*chat.Reply, error) {
	return m.HandleFunc(ctx, owner, message)
}

type mockMemories struct {
	ListFunc func(ctx context.Context, owner model.OwnerID, limit int) ([]*model.Memory, error)
}

func (m *mockMemories) List(ctx context.Context, owner model.OwnerID, limit int) ([]*model.Memory, error) {
	return m.ListFunc(ctx, owner, limit)
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == server.SessionCookie {
			return c
		}
	}
	return nil
}

func TestHealth(t *testing.T) {
	srv := server.New(&mockChat{}, &mockMemories{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	gt.Equal(t, w.Code, http.StatusOK)
	gt.S(t, w.Body.String()).Contains(`"status":"ok"`)
}

func TestChatIssuesAndReusesSession(t *testing.T) {
	var owners []model.OwnerID
	srv := server.New(&mockChat{
		HandleFunc: func(ctx context.Context, owner model.OwnerID, message string) (*chat.Reply, error) {
			owners = append(owners, owner)
			return &chat.Reply{Text: "echo: " + message}, nil
		},
	}, &mockMemories{})

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	gt.Equal(t, w.Code, http.StatusOK)
	var body map[string]string
	gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	gt.Equal(t, body["response"], "echo: hi")

	cookie := sessionCookie(w.Result())
	gt.True(t, cookie != nil)
	gt.True(t, cookie.HttpOnly)

	req = httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"again"}`))
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	gt.Equal(t, w.Code, http.StatusOK)
	gt.True(t, sessionCookie(w.Result()) == nil)
	gt.A(t, owners).Length(2)
	gt.Equal(t, owners[0], owners[1])
	gt.Equal(t, string(owners[0]), cookie.Value)
}

func TestChatRejectsForgedSession(t *testing.T) {
	var got model.OwnerID
	srv := server.New(&mockChat{
		HandleFunc: func(ctx context.Context, owner model.OwnerID, message string) (*chat.Reply, error) {
			got = owner
			return &chat.Reply{Text: "ok"}, nil
		},
	}, &mockMemories{})

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`))
	req.AddCookie(&http.Cookie{Name: server.SessionCookie, Value: "../../etc/passwd"})
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	gt.Equal(t, w.Code, http.StatusOK)
	gt.NotEqual(t, string(got), "../../etc/passwd")
	gt.True(t, sessionCookie(w.Result()) != nil)
}

func TestChatBadRequest(t *testing.T) {
	srv := server.New(&mockChat{}, &mockMemories{})

	for _, body := range []string{`not json`, `{}`, `{"message":""}`} {
		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		gt.Equal(t, w.Code, http.StatusBadRequest)
	}
}

func TestChatErrorDoesNotLeakDetails(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		status int
	}{
		{
			name:   "provider unavailable",
			err:    goerr.Wrap(model.ErrProviderUnavailable, "gemini", goerr.V("cause", "secret-api-key invalid")),
			status: http.StatusServiceUnavailable,
		},
		{
			name:   "unexpected",
			err:    errors.New("secret-api-key invalid"),
			status: http.StatusInternalServerError,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := server.New(&mockChat{
				HandleFunc: func(ctx context.Context, owner model.OwnerID, message string) (*chat.Reply, error) {
					return nil, tc.err
				},
			}, &mockMemories{})

			req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hello"}`))
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, req)

			gt.Equal(t, w.Code, tc.status)
			gt.S(t, w.Body.String()).Contains("Sorry")
			gt.S(t, w.Body.String()).NotContains("secret-api-key")
		})
	}
}

func TestListMemories(t *testing.T) {
	var gotLimit int
	var gotOwner model.OwnerID
	srv := server.New(&mockChat{}, &mockMemories{
		ListFunc: func(ctx context.Context, owner model.OwnerID, limit int) ([]*model.Memory, error) {
			gotOwner, gotLimit = owner, limit
			return []*model.Memory{
				{ID: "m1", OwnerID: owner, Content: "Podcast theme: space", Category: model.CategoryTheme},
			}, nil
		},
	})

	owner := model.NewOwnerID()
	req := httptest.NewRequest(http.MethodGet, "/memories?limit=10", nil)
	req.AddCookie(&http.Cookie{Name: server.SessionCookie, Value: string(owner)})
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	gt.Equal(t, w.Code, http.StatusOK)
	gt.Equal(t, gotLimit, 10)
	gt.Equal(t, gotOwner, owner)

	var body struct {
		Memories []model.Memory `json:"memories"`
	}
	gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	gt.A(t, body.Memories).Length(1)
	gt.Equal(t, body.Memories[0].Content, "Podcast theme: space")

	req = httptest.NewRequest(http.MethodGet, "/memories?limit=abc", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	gt.Equal(t, w.Code, http.StatusBadRequest)
}
