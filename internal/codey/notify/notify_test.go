package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueue_DrainIntoAppendsTaggedMarkup(t *testing.T) {
	q := New()
	q.Push(Notification{Source: SourceUserMessage, Message: "wait, also check src/lib.rs"})

	out := q.DrainInto("OK")
	assert.Equal(t, "OK\n\n<notification source=\"user\">\nwait, also check src/lib.rs\n</notification>", out)
}

func TestQueue_DrainIntoIsAtMostOnce(t *testing.T) {
	q := New()
	q.Push(Notification{Source: SourceBackgroundTask, Message: "task done"})

	first := q.DrainInto("result 1")
	assert.Contains(t, first, "task done")

	second := q.DrainInto("result 2")
	assert.Equal(t, "result 2", second, "a notification already delivered must not be injected again")
}

func TestQueue_NoOpWhenEmpty(t *testing.T) {
	q := New()
	assert.False(t, q.Pending())
	assert.Equal(t, "unchanged", q.DrainInto("unchanged"))
}

func TestQueue_MultiplePendingAllDeliveredTogether(t *testing.T) {
	q := New()
	q.Push(Notification{Source: SourceUserMessage, Message: "a"})
	q.Push(Notification{Source: SourceBackgroundTask, Message: "b"})

	out := q.DrainInto("base")
	assert.Contains(t, out, "a")
	assert.Contains(t, out, "b")
	assert.False(t, q.Pending())
}
