package graphql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddRemove(t *testing.T) {
	r := newOperationRegistry()

	canceled := false
	replaced := r.add("1", func() { canceled = true })
	assert.False(t, replaced)
	assert.Equal(t, 1, r.size())

	cancel, ok := r.remove("1")
	require.True(t, ok)
	assert.Equal(t, 0, r.size())
	assert.False(t, canceled, "remove must not invoke the handle")

	cancel()
	assert.True(t, canceled)

	// Second remove finds nothing
	_, ok = r.remove("1")
	assert.False(t, ok)
}

func TestRegistryIDReuseLastWriteWins(t *testing.T) {
	r := newOperationRegistry()

	firstCanceled := false
	secondCanceled := false

	assert.False(t, r.add("op", func() { firstCanceled = true }))
	replaced := r.add("op", func() { secondCanceled = true })
	assert.True(t, replaced)
	assert.Equal(t, 1, r.size())

	// Overwriting never cancels the displaced handle
	assert.False(t, firstCanceled)

	cancel, ok := r.remove("op")
	require.True(t, ok)
	cancel()
	assert.False(t, firstCanceled)
	assert.True(t, secondCanceled)
}

func TestRegistryCancelAll(t *testing.T) {
	r := newOperationRegistry()

	ctxs := make([]context.Context, 0, 3)
	for _, id := range []string{"a", "b", "c"} {
		ctx, cancel := context.WithCancel(context.Background())
		ctxs = append(ctxs, ctx)
		r.add(id, cancel)
	}

	r.cancelAll()
	assert.Equal(t, 0, r.size())
	for _, ctx := range ctxs {
		assert.Error(t, ctx.Err())
	}
}
