package progressbus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormino/vixsrc-downloader/internal/progressbus"
	"github.com/stormino/vixsrc-downloader/internal/taskmodel"
)

func TestPublish_DeliversInRegistrationOrder(t *testing.T) {
	b := progressbus.New(nil)
	var order []int

	b.Subscribe(func(taskmodel.ProgressUpdate) { order = append(order, 1) })
	b.Subscribe(func(taskmodel.ProgressUpdate) { order = append(order, 2) })

	b.Publish(taskmodel.ProgressUpdate{TaskID: "t1", Status: taskmodel.StatusDownloading, Progress: 1})
	assert.Equal(t, []int{1, 2}, order)
}

func TestPublish_ThrottlesSmallDeltaWithinInterval(t *testing.T) {
	b := progressbus.New(nil)
	var received int
	b.Subscribe(func(taskmodel.ProgressUpdate) { received++ })

	b.Publish(taskmodel.ProgressUpdate{TaskID: "t1", Status: taskmodel.StatusDownloading, Progress: 10})
	b.Publish(taskmodel.ProgressUpdate{TaskID: "t1", Status: taskmodel.StatusDownloading, Progress: 10.02})
	assert.Equal(t, 1, received, "second update is within both the time and delta threshold")
}

func TestPublish_StatusTransitionAlwaysDelivered(t *testing.T) {
	b := progressbus.New(nil)
	var received int
	b.Subscribe(func(taskmodel.ProgressUpdate) { received++ })

	b.Publish(taskmodel.ProgressUpdate{TaskID: "t1", Status: taskmodel.StatusDownloading, Progress: 10})
	b.Publish(taskmodel.ProgressUpdate{TaskID: "t1", Status: taskmodel.StatusMerging, Progress: 10})
	assert.Equal(t, 2, received)
}

func TestPublish_TerminalAlwaysDelivered(t *testing.T) {
	b := progressbus.New(nil)
	var received int
	b.Subscribe(func(taskmodel.ProgressUpdate) { received++ })

	b.Publish(taskmodel.ProgressUpdate{TaskID: "t1", Status: taskmodel.StatusDownloading, Progress: 99})
	b.Publish(taskmodel.ProgressUpdate{TaskID: "t1", Status: taskmodel.StatusCompleted, Progress: 99})
	assert.Equal(t, 2, received)
}

func TestPublish_DifferentSubTaskStreamsAreIndependent(t *testing.T) {
	b := progressbus.New(nil)
	var received int
	b.Subscribe(func(taskmodel.ProgressUpdate) { received++ })

	b.Publish(taskmodel.ProgressUpdate{TaskID: "t1", SubTaskID: "s1", Status: taskmodel.StatusDownloading, Progress: 1})
	b.Publish(taskmodel.ProgressUpdate{TaskID: "t1", SubTaskID: "s2", Status: taskmodel.StatusDownloading, Progress: 1})
	assert.Equal(t, 2, received)
}

func TestPublish_PanickingSubscriberDoesNotStallOthers(t *testing.T) {
	b := progressbus.New(nil)
	var secondCalled bool

	b.Subscribe(func(taskmodel.ProgressUpdate) { panic("boom") })
	b.Subscribe(func(taskmodel.ProgressUpdate) { secondCalled = true })

	require.NotPanics(t, func() {
		b.Publish(taskmodel.ProgressUpdate{TaskID: "t1", Status: taskmodel.StatusDownloading, Progress: 1})
	})
	assert.True(t, secondCalled)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := progressbus.New(nil)
	var received int
	unsub := b.Subscribe(func(taskmodel.ProgressUpdate) { received++ })
	unsub()

	b.Publish(taskmodel.ProgressUpdate{TaskID: "t1", Status: taskmodel.StatusDownloading, Progress: 1})
	assert.Equal(t, 0, received)
}

func TestPublish_DeliversAfterIntervalElapses(t *testing.T) {
	b := progressbus.New(nil)
	var received int
	b.Subscribe(func(taskmodel.ProgressUpdate) { received++ })

	b.Publish(taskmodel.ProgressUpdate{TaskID: "t1", Status: taskmodel.StatusDownloading, Progress: 1})
	time.Sleep(600 * time.Millisecond)
	b.Publish(taskmodel.ProgressUpdate{TaskID: "t1", Status: taskmodel.StatusDownloading, Progress: 1.01})
	assert.Equal(t, 2, received)
}
