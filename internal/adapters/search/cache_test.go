package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSearch struct {
	calls int
	err   error
}

func (c *countingSearch) Search(_ context.Context, queries []string, _ int, _ float64) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return "hits for " + queries[0], nil
}

func TestCachedProvider_Memoizes(t *testing.T) {
	next := &countingSearch{}
	p := NewCachedProvider(next, time.Minute).(*CachedProvider)

	for i := 0; i < 3; i++ {
		out, err := p.Search(context.Background(), []string{"q1"}, 10, 0.7)
		require.NoError(t, err)
		assert.Equal(t, "hits for q1", out)
	}
	assert.Equal(t, 1, next.calls)

	_, _ = p.Search(context.Background(), []string{"q1"}, 5, 0.7)
	assert.Equal(t, 2, next.calls, "different limit is a different key")
	assert.Equal(t, 2, p.Len())

	p.Flush()
	assert.Equal(t, 0, p.Len())
}

func TestCachedProvider_DoesNotCacheErrors(t *testing.T) {
	next := &countingSearch{err: errors.New("index locked")}
	p := NewCachedProvider(next, time.Minute)

	_, err := p.Search(context.Background(), []string{"q"}, 10, 0)
	assert.Error(t, err)
	_, err = p.Search(context.Background(), []string{"q"}, 10, 0)
	assert.Error(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestNewCachedProvider_ZeroTTLPassesThrough(t *testing.T) {
	next := &countingSearch{}
	assert.Same(t, next, NewCachedProvider(next, 0))
}
