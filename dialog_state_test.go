package sipgo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDialogStateKindPersistent(t *testing.T) {
	require.True(t, DialogStateCalling.Persistent())
	require.True(t, DialogStateTerminated.Persistent())
	require.False(t, DialogStateUpdated.Persistent())
	require.False(t, DialogStateNotify.Persistent())
}

func TestDialogStateKindString(t *testing.T) {
	require.Equal(t, "Confirmed", DialogStateConfirmed.String())
	require.Equal(t, "Unknown", DialogStateKind(999).String())
}

func TestTerminatedReasonString(t *testing.T) {
	require.Equal(t, "UacBye", TerminatedUacBye.String())
	require.Equal(t, "Unspecified", TerminatedReason(999).String())
}

func TestPublishStateNonBlockingOnFullChannel(t *testing.T) {
	ch := make(chan DialogState, 1)
	publishState(ch, DialogState{Kind: DialogStateTrying})
	publishState(ch, DialogState{Kind: DialogStateEarly})

	select {
	case s := <-ch:
		require.Equal(t, DialogStateTrying, s.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected first published state to be buffered")
	}

	// Channel now empty again; the second publish above was dropped rather than
	// blocking, so nothing further should arrive.
	select {
	case s := <-ch:
		t.Fatalf("unexpected second state delivered: %+v", s)
	default:
	}
}

func TestPublishStateNilChannelIsNoop(t *testing.T) {
	require.NotPanics(t, func() {
		publishState(nil, DialogState{Kind: DialogStateTerminated})
	})
}

func TestPublishStateClosedChannelDoesNotPanic(t *testing.T) {
	ch := make(chan DialogState)
	close(ch)
	require.NotPanics(t, func() {
		publishState(ch, DialogState{Kind: DialogStateTerminated})
	})
}
