package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobhost/internal/task/job"
)

func TestFireQueueOrdersByTimeThenInsertion(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var q fireQueue
	q.push(entry{at: base.Add(2 * time.Minute), key: job.NewTriggerKey("c", "")})
	q.push(entry{at: base.Add(time.Minute), key: job.NewTriggerKey("a", "")})
	q.push(entry{at: base.Add(time.Minute), key: job.NewTriggerKey("b", "")})

	_, ok := q.popDue(base)
	assert.False(t, ok, "nothing is due yet")

	head, ok := q.peek()
	require.True(t, ok)
	assert.Equal(t, "a", head.key.Name)

	var got []string
	for {
		e, ok := q.popDue(base.Add(time.Hour))
		if !ok {
			break
		}
		got = append(got, e.key.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 0, q.len())
}
