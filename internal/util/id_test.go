package util

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("task")
	assert.True(t, strings.HasPrefix(id, "task_"))
	assert.Len(t, id, len("task_")+32)
	assert.NotEqual(t, id, NewID("task"))
	assert.Len(t, NewID(""), 32)
}

func TestNewTimedIDUniqueWithinSameInstant(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	a := NewTimedID("ver", now)
	b := NewTimedID("ver", now)
	assert.True(t, strings.HasPrefix(a, "ver_1700000000000_"))
	assert.NotEqual(t, a, b)
}
