package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	a, b := New(), New()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)

	u, err := uuid.Parse(a)
	assert.NoError(t, err)
	assert.Equal(t, uuid.Version(4), u.Version())
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("att_")
	assert.True(t, strings.HasPrefix(id, "att_"))
	assert.Len(t, id, 4+32)
	assert.NotContains(t, id, "-")

	_, err := uuid.Parse(strings.TrimPrefix(id, "att_"))
	assert.NoError(t, err)
}
