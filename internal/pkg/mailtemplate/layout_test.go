package mailtemplate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap_NamedLayout(t *testing.T) {
	l := NewLayouts(map[string]string{
		"default": "<div>{{ body }}</div>",
		"branded": "<h1>{{ site }}</h1>{{ body }}",
	})
	out, err := l.Wrap("branded", "<p>hi</p>", map[string]any{"site": "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "<h1>Acme</h1><p>hi</p>", out)
}

func TestWrap_FallsBackToDefault(t *testing.T) {
	l := NewLayouts(map[string]string{"default": "<div>{{ body }}</div>"})
	out, err := l.Wrap("unknown", "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "<div>x</div>", out)
}

func TestWrap_NoLayouts(t *testing.T) {
	out, err := NewLayouts(nil).Wrap("", "plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}

func TestValidate_SyntaxError(t *testing.T) {
	l := NewLayouts(map[string]string{"broken": "{% if x %}no end"})
	assert.Error(t, l.Validate())
	out, err := l.Wrap("broken", "body", nil)
	assert.Error(t, err)
	assert.Equal(t, "body", out)
}
