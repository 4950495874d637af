package toast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/calcio-domains/internal/model"
)

func TestShow_AssignsMonotonicIDs(t *testing.T) {
	n := NewNotifier()

	a := n.Success("ok", 0)
	b := n.Error("ko", 0)
	c := n.Info("fyi", 0)

	assert.Less(t, a, b)
	assert.Less(t, b, c)

	list := n.List()
	require.Len(t, list, 3)
	assert.Equal(t, model.SeveritySuccess, list[0].Severity)
	assert.Equal(t, model.SeverityError, list[1].Severity)
	assert.Equal(t, "fyi", list[2].Message)
}

func TestShow_IDsNotReusedAfterRemove(t *testing.T) {
	n := NewNotifier()

	a := n.Warning("one", 0)
	n.Remove(a)
	b := n.Warning("two", 0)

	assert.NotEqual(t, a, b)
}

func TestRemove_Idempotent(t *testing.T) {
	n := NewNotifier()

	a := n.Info("a", 0)
	b := n.Info("b", 0)

	n.Remove(a)
	before := n.List()

	n.Remove(a)
	n.Remove(12345)

	assert.Equal(t, before, n.List())
	require.Len(t, n.List(), 1)
	assert.Equal(t, b, n.List()[0].ID)
}

func TestShow_AutoDismiss(t *testing.T) {
	n := NewNotifier()

	n.Info("short", 20*time.Millisecond)
	n.Info("sticky", 0)

	assert.Eventually(t, func() bool {
		list := n.List()
		return len(list) == 1 && list[0].Message == "sticky"
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribe_ReceivesNewToasts(t *testing.T) {
	n := NewNotifier()

	ch, cancel := n.Subscribe()
	n.Success("added", 0)

	select {
	case got := <-ch:
		assert.Equal(t, "added", got.Message)
	case <-time.After(time.Second):
		t.Fatal("toast was not delivered")
	}

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	n.Success("after cancel", 0)
}

func TestClear(t *testing.T) {
	n := NewNotifier()
	n.Info("a", time.Hour)
	n.Clear()
	assert.Empty(t, n.List())
}
