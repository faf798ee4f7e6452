package localfs

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/go-doubleoptin/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "optins/abc.txt", strings.NewReader("hello"), "text/plain"))
	assert.Error(t, s.Put(ctx, "optins/abc.txt", strings.NewReader("again"), "text/plain"))

	rc, err := s.Open(ctx, "optins/abc.txt")
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "hello", string(b))

	require.NoError(t, s.Delete(ctx, "optins/abc.txt"))
	require.NoError(t, s.Delete(ctx, "optins/abc.txt"))
	_, err = s.Open(ctx, "optins/abc.txt")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_RejectsTraversal(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	err = s.Put(context.Background(), "../etc/passwd", strings.NewReader("x"), "")
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}
