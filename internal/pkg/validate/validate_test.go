package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type sample struct {
	Name  string `validate:"required"`
	Email string `validate:"omitempty,email"`
}

func TestStruct(t *testing.T) {
	assert.NoError(t, Struct(sample{Name: "a", Email: "a@example.com"}))

	err := Struct(sample{Email: "nope"})
	assert.ErrorContains(t, err, "sample.Name")
	assert.ErrorContains(t, err, "'email'")
}

func TestEmail(t *testing.T) {
	assert.True(t, Email("user@example.com"))
	assert.False(t, Email(""))
	assert.False(t, Email("user@"))
}
