package hub_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	jobsmodel "github.com/grabwell/grabwell/internal/model/jobs"
	"github.com/grabwell/grabwell/internal/pkg/hub"
)

const collectTimeout = 2 * time.Second

// collect reads n events from the subscription or fails the test.
func collect(t *testing.T, sub *hub.Subscription, n int) []jobsmodel.JobEvent {
	t.Helper()

	events := make([]jobsmodel.JobEvent, 0, n)
	timeout := time.After(collectTimeout)
	for len(events) < n {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "stream closed early after %d events", len(events))
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(events), n)
		}
	}
	return events
}

// waitClosed asserts that the subscription's stream ends.
func waitClosed(t *testing.T, sub *hub.Subscription) {
	t.Helper()

	timeout := time.After(collectTimeout)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func logEvent(line string) jobsmodel.JobEvent {
	return jobsmodel.JobEvent{
		Kind: jobsmodel.EventKindLog,
		Log:  &jobsmodel.LogEvent{Stream: jobsmodel.LogStreamStdout, Line: line},
	}
}

func terminalEvent() jobsmodel.JobEvent {
	return jobsmodel.JobEvent{
		Kind:     jobsmodel.EventKindState,
		Terminal: true,
		State:    &jobsmodel.StateEvent{Status: jobsmodel.JobStatusCompleted},
	}
}

func TestPublishAssignsSequenceNumbers(t *testing.T) {
	h := hub.New(nil)
	h.Register("job1")

	for i := 0; i < 5; i++ {
		stamped, err := h.Publish("job1", logEvent(fmt.Sprintf("line %d", i)))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), stamped.SequenceNum)
		assert.Equal(t, "job1", stamped.JobID)
		assert.False(t, stamped.Timestamp.IsZero())
	}

	first, next, err := h.SeqRange("job1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first)
	assert.Equal(t, uint64(5), next)
}

func TestPublishUnknownJob(t *testing.T) {
	h := hub.New(nil)

	_, err := h.Publish("missing", logEvent("x"))
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestPublishAfterTerminal(t *testing.T) {
	h := hub.New(nil)
	h.Register("job1")

	_, err := h.Publish("job1", terminalEvent())
	require.NoError(t, err)

	_, err = h.Publish("job1", logEvent("late"))
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestSubscribeReplaysThenStreamsLive(t *testing.T) {
	h := hub.New(nil)
	h.Register("job1")

	for i := 0; i < 3; i++ {
		_, err := h.Publish("job1", logEvent(fmt.Sprintf("line %d", i)))
		require.NoError(t, err)
	}

	sub, err := h.Subscribe("job1", 0)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	replayed := collect(t, sub, 3)
	for i, ev := range replayed {
		assert.Equal(t, uint64(i), ev.SequenceNum)
	}

	_, err = h.Publish("job1", logEvent("live"))
	require.NoError(t, err)
	_, err = h.Publish("job1", terminalEvent())
	require.NoError(t, err)

	live := collect(t, sub, 2)
	assert.Equal(t, uint64(3), live[0].SequenceNum)
	assert.Equal(t, uint64(4), live[1].SequenceNum)
	assert.True(t, live[1].Terminal)

	waitClosed(t, sub)
	assert.NoError(t, sub.Err())
}

func TestSubscribeFromOffset(t *testing.T) {
	h := hub.New(nil)
	h.Register("job1")

	for i := 0; i < 10; i++ {
		_, err := h.Publish("job1", logEvent(fmt.Sprintf("line %d", i)))
		require.NoError(t, err)
	}

	sub, err := h.Subscribe("job1", 7)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	events := collect(t, sub, 3)
	assert.Equal(t, uint64(7), events[0].SequenceNum)
	assert.Equal(t, uint64(9), events[2].SequenceNum)
}

func TestSubscribeEvictedOffsetGetsGapMarker(t *testing.T) {
	h := hub.New(&hub.Config{BufferSize: 20})
	h.Register("job1")

	for i := 0; i < 50; i++ {
		_, err := h.Publish("job1", logEvent(fmt.Sprintf("line %d", i)))
		require.NoError(t, err)
	}

	sub, err := h.Subscribe("job1", 0)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	events := collect(t, sub, 21)
	assert.Equal(t, jobsmodel.EventKindGap, events[0].Kind)
	assert.Equal(t, uint64(30), events[1].SequenceNum)
	assert.Equal(t, uint64(49), events[20].SequenceNum)

	// Sequence numbers after the marker are gapless.
	for i := 2; i < len(events); i++ {
		assert.Equal(t, events[i-1].SequenceNum+1, events[i].SequenceNum)
	}
}

func TestSubscribeAfterTerminalReplaysAndEnds(t *testing.T) {
	h := hub.New(nil)
	h.Register("job1")

	_, err := h.Publish("job1", logEvent("only line"))
	require.NoError(t, err)
	_, err = h.Publish("job1", terminalEvent())
	require.NoError(t, err)

	sub, err := h.Subscribe("job1", 0)
	require.NoError(t, err)

	events := collect(t, sub, 2)
	assert.True(t, events[1].Terminal)
	waitClosed(t, sub)
	assert.NoError(t, sub.Err())
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := hub.New(&hub.Config{SubscriberQueueSize: 2})
	h.Register("job1")

	sub, err := h.Subscribe("job1", 0)
	require.NoError(t, err)

	// The subscriber never drains, so its bounded queue overflows. The
	// forwarding goroutine holds one extra event in flight, hence > queue
	// size + 1 publishes are needed to guarantee an overflow.
	for i := 0; i < 10; i++ {
		_, err := h.Publish("job1", logEvent(fmt.Sprintf("line %d", i)))
		require.NoError(t, err)
	}

	waitClosed(t, sub)
	require.Error(t, sub.Err())
	assert.Equal(t, codes.ResourceExhausted, status.Code(sub.Err()))
}

func TestUnsubscribeDoesNotAffectOthers(t *testing.T) {
	h := hub.New(nil)
	h.Register("job1")

	sub1, err := h.Subscribe("job1", 0)
	require.NoError(t, err)
	sub2, err := h.Subscribe("job1", 0)
	require.NoError(t, err)

	sub1.Unsubscribe()

	_, err = h.Publish("job1", logEvent("after unsubscribe"))
	require.NoError(t, err)

	events := collect(t, sub2, 1)
	assert.Equal(t, "after unsubscribe", events[0].Log.Line)
	sub2.Unsubscribe()
}

func TestSubscribeFutureOffsetSkipsEarlierLiveEvents(t *testing.T) {
	h := hub.New(nil)
	h.Register("job1")

	sub, err := h.Subscribe("job1", 2)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	for i := 0; i < 4; i++ {
		_, err := h.Publish("job1", logEvent(fmt.Sprintf("line %d", i)))
		require.NoError(t, err)
	}

	// Live events below the requested offset are filtered, not just
	// replayed ones.
	got := collect(t, sub, 2)
	assert.Equal(t, uint64(2), got[0].SequenceNum)
	assert.Equal(t, uint64(3), got[1].SequenceNum)
}

func TestSubscribeFutureOffsetEndsOnEarlierTerminal(t *testing.T) {
	h := hub.New(nil)
	h.Register("job1")

	sub, err := h.Subscribe("job1", 10)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = h.Publish("job1", logEvent("only line"))
	require.NoError(t, err)
	_, err = h.Publish("job1", terminalEvent())
	require.NoError(t, err)

	// Nothing qualifies for delivery, but the stream still ends with the
	// job.
	waitClosed(t, sub)
	assert.NoError(t, sub.Err())
}

func TestPublishReturnsStampedEvent(t *testing.T) {
	h := hub.New(nil)
	h.Register("job1")

	sub, err := h.Subscribe("job1", 0)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	stamped, err := h.Publish("job1", logEvent("mirrored"))
	require.NoError(t, err)

	got := collect(t, sub, 1)
	assert.Equal(t, stamped, got[0])
}

func TestRemoveDisconnectsSubscribers(t *testing.T) {
	h := hub.New(nil)
	h.Register("job1")

	sub, err := h.Subscribe("job1", 0)
	require.NoError(t, err)

	h.Remove("job1")
	waitClosed(t, sub)

	_, err = h.Subscribe("job1", 0)
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}
