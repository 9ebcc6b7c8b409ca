package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_WaitForCompletion(t *testing.T) {
	tr := NewTracker(nil)
	release := make(chan struct{})
	require.NoError(t, tr.Go(TaskTypeLeadDelivery, func() { <-release }))
	require.NoError(t, tr.Go(TaskTypeLeadDelivery, func() { panic("boom") }))

	require.Eventually(t, func() bool { return tr.Pending() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tr.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, tr.Wait(context.Background()))
	assert.Equal(t, 0, tr.Pending())
}

func TestTracker_RefusesTasksWhileDraining(t *testing.T) {
	tr := NewTracker(nil)
	release := make(chan struct{})
	require.NoError(t, tr.Go(TaskTypeLeadDelivery, func() { <-release }))

	done := make(chan error, 1)
	go func() { done <- tr.Wait(context.Background()) }()

	require.Eventually(t, func() bool {
		return errors.Is(tr.Go(TaskTypeLeadDelivery, func() {}), ErrDraining)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, tr.Pending())

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("drain did not finish")
	}
	assert.ErrorIs(t, tr.Go(TaskTypeLeadDelivery, func() {}), ErrDraining)
}
