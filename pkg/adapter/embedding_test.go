package adapter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/castmate/pkg/adapter"
	"github.com/m-mizutani/gt"
)

type countingEmbedder struct {
	calls map[string]int
	fail  bool
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls[text]++
	if e.fail {
		return nil, errors.New("embedding backend down")
	}
	return []float32{float32(len(text)), 1}, nil
}

func (e *countingEmbedder) EmbeddingModel() string {
	return "counting@2"
}

func TestCachedEmbedderMemoizes(t *testing.T) {
	ctx := context.Background()
	base := &countingEmbedder{calls: map[string]int{}}

	cached, err := adapter.NewCachedEmbedder(base, 100)
	gt.NoError(t, err)
	defer cached.Close()

	v1, err := cached.Embed(ctx, "podcast about bees")
	gt.NoError(t, err)
	cached.Wait()

	v2, err := cached.Embed(ctx, "podcast about bees")
	gt.NoError(t, err)

	gt.Equal(t, v1, v2)
	gt.Equal(t, base.calls["podcast about bees"], 1)
	gt.Equal(t, cached.EmbeddingModel(), "counting@2")
}

func TestCachedEmbedderDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	base := &countingEmbedder{calls: map[string]int{}, fail: true}

	cached, err := adapter.NewCachedEmbedder(base, 100)
	gt.NoError(t, err)
	defer cached.Close()

	_, err = cached.Embed(ctx, "hello")
	gt.Error(t, err)
	cached.Wait()
	_, err = cached.Embed(ctx, "hello")
	gt.Error(t, err)
	gt.Equal(t, base.calls["hello"], 2)
}

func TestNewCachedEmbedderRejectsZeroSize(t *testing.T) {
	_, err := adapter.NewCachedEmbedder(&countingEmbedder{calls: map[string]int{}}, 0)
	gt.Error(t, err)
}
