package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/castmate/pkg/model"
	"github.com/m-mizutani/gt"
)

type scriptedReader struct {
	lines []string
	err   error
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		if r.err != nil {
			return "", r.err
		}
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func TestChatLoop(t *testing.T) {
	var got []string
	handle := func(ctx context.Context, message string) (string, error) {
		got = append(got, message)
		if message == "boom" {
			return "", errors.New("provider exploded")
		}
		return "answer to " + message, nil
	}

	var buf bytes.Buffer
	reader := &scriptedReader{lines: []string{"  hello  ", "", "boom", "generate ideas: space", "exit", "never"}}
	gt.NoError(t, chatLoop(context.Background(), reader, &buf, model.NewOwnerID(), handle))

	gt.Equal(t, got, []string{"hello", "boom", "generate ideas: space"})
	gt.S(t, buf.String()).Contains("answer to hello")
	gt.S(t, buf.String()).Contains(chatApology)
	gt.S(t, buf.String()).NotContains("provider exploded")
	gt.S(t, buf.String()).NotContains("never")
}

func TestChatLoopStopsOnInterrupt(t *testing.T) {
	reader := &scriptedReader{err: readline.ErrInterrupt}
	err := chatLoop(context.Background(), reader, io.Discard, model.NewOwnerID(), func(ctx context.Context, message string) (string, error) {
		return "", nil
	})
	gt.NoError(t, err)
}

func TestChatLoopReadError(t *testing.T) {
	reader := &scriptedReader{err: errors.New("terminal gone")}
	err := chatLoop(context.Background(), reader, io.Discard, model.NewOwnerID(), func(ctx context.Context, message string) (string, error) {
		return "", nil
	})
	gt.Error(t, err)
}

func TestParseGCSURL(t *testing.T) {
	bucket, object, ok := parseGCSURL("gs://my-bucket/exports/2025/memories.jsonl")
	gt.True(t, ok)
	gt.Equal(t, bucket, "my-bucket")
	gt.Equal(t, object, "exports/2025/memories.jsonl")

	for _, s := range []string{"gs://bucket", "gs:///object", "gs://bucket/", "/tmp/file", "s3://bucket/key"} {
		_, _, ok := parseGCSURL(s)
		gt.False(t, ok)
	}
}

func TestOneLine(t *testing.T) {
	gt.Equal(t, oneLine("a\n  b\tc", 80), "a b c")
	gt.Equal(t, oneLine("abcdefghij", 8), "abcde...")
}

func TestNewRepository(t *testing.T) {
	ctx := context.Background()

	cfg := &config{store: storeLocal}
	repo, closeRepo, err := cfg.newRepository(ctx)
	gt.NoError(t, err)
	gt.True(t, repo != nil)
	closeRepo()

	cfg = &config{store: storeFirestore}
	_, _, err = cfg.newRepository(ctx)
	gt.Error(t, err)

	cfg = &config{store: "redis"}
	_, _, err = cfg.newRepository(ctx)
	gt.Error(t, err)
}

func TestNewGeneratorRejectsUnknownBackend(t *testing.T) {
	cfg := &config{llm: "gpt"}
	_, err := cfg.newGenerator(nil)
	gt.Error(t, err)

	cfg = &config{llm: llmClaude}
	_, err = cfg.newGenerator(nil)
	gt.Error(t, err)

	cfg = &config{llm: llmClaude, anthropicAPIKey: "sk-test", claudeModel: "claude-test"}
	gen, err := cfg.newGenerator(nil)
	gt.NoError(t, err)
	gt.True(t, gen != nil)
}

func TestNewAppValidatesThreshold(t *testing.T) {
	cfg := &config{store: storeLocal, memoryThreshold: 1.5}
	_, err := cfg.newApp(context.Background())
	gt.Error(t, err)
}

func TestOwnerID(t *testing.T) {
	cfg := &config{owner: "fixed-owner"}
	gt.Equal(t, cfg.ownerID(context.Background()), model.OwnerID("fixed-owner"))

	cfg = &config{}
	a := cfg.ownerID(context.Background())
	b := cfg.ownerID(context.Background())
	gt.NotEqual(t, a, b)
}

func TestRetryPolicyUsesCallTimeout(t *testing.T) {
	cfg := &config{}
	gt.Equal(t, cfg.retryPolicy().MaxAttempts, 3)

	cfg = &config{callTimeout: 5e9}
	gt.Equal(t, cfg.retryPolicy().Timeout.Seconds(), 5.0)
}
