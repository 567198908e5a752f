package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/google-proxy/pkg/clock"
	"github.com/pario-ai/google-proxy/pkg/models"
	"github.com/pario-ai/google-proxy/pkg/store"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func resp(text string) models.Response {
	return models.Response{Kind: models.KindTextGeneration, Model: "gemini-2.0-flash", Text: text}
}

func outbound(prompt string) models.Outbound {
	return models.Outbound{
		Model:    "gemini-2.0-flash",
		Contents: []models.Content{{Role: "user", Parts: []models.Part{{Text: prompt}}}},
	}
}

func TestFingerprintStructuralEquality(t *testing.T) {
	temp := 0.5
	a := outbound("hello")
	a.GenerationConfig = &models.GenerationConfig{Temperature: &temp}
	temp2 := 0.5
	b := outbound("hello")
	b.GenerationConfig = &models.GenerationConfig{Temperature: &temp2}

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
	assert.Len(t, fa, 64)

	fc, err := Fingerprint(outbound("hello!"))
	require.NoError(t, err)
	assert.NotEqual(t, fa, fc)

	other := outbound("hello")
	other.Model = "gemini-2.0-pro"
	fd, err := Fingerprint(other)
	require.NoError(t, err)
	assert.NotEqual(t, fa, fd)
}

func TestGetPut(t *testing.T) {
	ctx := context.Background()
	c := New(10)

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	c.Put(ctx, "a", resp("A"))
	got, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "A", got.Text)

	c.Put(ctx, "a", resp("A2"))
	got, _ = c.Get(ctx, "a")
	assert.Equal(t, "A2", got.Text)
	assert.Equal(t, 1, c.Len())

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(10), stats.Capacity)
}

func TestStrictLRUEviction(t *testing.T) {
	ctx := context.Background()
	c := New(2)

	c.Put(ctx, "a", resp("A"))
	c.Put(ctx, "b", resp("B"))
	_, ok := c.Get(ctx, "a")
	require.True(t, ok)

	c.Put(ctx, "c", resp("C"))

	assert.Equal(t, 2, c.Len())
	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"), "b was least recently used")
	assert.True(t, c.Contains("c"))
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	ctx := context.Background()
	c := New(2)
	c.Put(ctx, "a", resp("A"))
	c.Put(ctx, "b", resp("B"))
	c.Put(ctx, "a", resp("A2"))

	assert.Equal(t, 2, c.Len())
	assert.Zero(t, c.Stats().Evictions)
}

func TestDisabled(t *testing.T) {
	ctx := context.Background()
	c := New(0)
	c.Put(ctx, "a", resp("A"))
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
	assert.False(t, c.Enabled())
}

func TestPutStripsPerRequestFields(t *testing.T) {
	ctx := context.Background()
	c := New(1)
	r := resp("A")
	r.SessionID = "s1"
	r.Cached = true
	c.Put(ctx, "a", r)

	got, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Empty(t, got.SessionID)
	assert.False(t, got.Cached)
}

func TestWriteThroughAndRestore(t *testing.T) {
	ctx := context.Background()
	fc := clock.Fake(epoch)
	mem := store.NewMemory()

	c := New(3, WithStore(mem, "tenant"), WithClock(fc))
	c.Put(ctx, "a", resp("A"))
	<-fc.After(time.Second)
	c.Put(ctx, "b", resp("B"))
	<-fc.After(time.Second)
	c.Put(ctx, "c", resp("C"))
	<-fc.After(time.Second)
	_, _ = c.Get(ctx, "a")
	assert.Equal(t, 3, mem.Len())

	// A smaller cache keeps only the two most recently used entries.
	restored := New(2, WithStore(mem, "tenant"), WithClock(fc))
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, 2, restored.Len())
	assert.True(t, restored.Contains("a"))
	assert.True(t, restored.Contains("c"))
	assert.False(t, restored.Contains("b"))
	assert.Equal(t, 2, mem.Len())

	got, ok := restored.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "A", got.Text)
}

func TestEvictionDeletesFromStore(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	c := New(1, WithStore(mem, "ns"))

	c.Put(ctx, "a", resp("A"))
	c.Put(ctx, "b", resp("B"))

	_, ok, err := mem.Get(ctx, "ns/cache/a")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, _ = mem.Get(ctx, "ns/cache/b")
	assert.True(t, ok)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	c := New(5, WithStore(mem, "ns"))
	for i := range 3 {
		c.Put(ctx, fmt.Sprint(i), resp("x"))
	}
	c.Clear(ctx)
	assert.Zero(t, c.Len())
	assert.Zero(t, mem.Len())
}

type failingStore struct{ *store.Memory }

func (failingStore) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestStoreFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	c := New(2, WithStore(failingStore{Memory: store.NewMemory()}, "ns"))
	c.Put(ctx, "a", resp("A"))
	got, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "A", got.Text)
}
