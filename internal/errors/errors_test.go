package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidArgumentfIsMarked(t *testing.T) {
	err := InvalidArgumentf("bad cron %q", "x")
	assert.True(t, Is(err, ErrInvalidArgument))
	assert.Contains(t, err.Error(), `bad cron "x"`)

	wrapped := Wrap(err, "schedule")
	assert.True(t, Is(wrapped, ErrInvalidArgument))
	assert.Equal(t, `schedule: bad cron "x"`, wrapped.Error())
}
