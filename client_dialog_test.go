package sipgo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telecore/sipdialog/sip"
)

func TestClientInviteDialogCancelRejectedOutsideCallingTryingEarly(t *testing.T) {
	c := newClientInviteDialog(testEndpoint(), DialogID{CallID: "cid"})
	c.core.state = DialogStateConfirmed

	err := c.Cancel(context.Background())
	require.ErrorIs(t, err, ErrDialogOutsideDialog)
}

func TestClientInviteDialogByeRejectedOutsideConfirmed(t *testing.T) {
	c := newClientInviteDialog(testEndpoint(), DialogID{CallID: "cid"})
	c.core.state = DialogStateTrying

	err := c.Bye(context.Background())
	require.ErrorIs(t, err, ErrDialogOutsideDialog)
}

func TestClientInviteDialogAckRejectedOutsideConfirmed(t *testing.T) {
	c := newClientInviteDialog(testEndpoint(), DialogID{CallID: "cid"})
	c.core.state = DialogStateTrying

	err := c.Ack(context.Background())
	require.ErrorIs(t, err, ErrDialogOutsideDialog)
}

func TestClientInviteDialogHangupDispatchesByCurrentState(t *testing.T) {
	c := newClientInviteDialog(testEndpoint(), DialogID{CallID: "cid"})

	// Outside Confirmed, hangup dispatches to Cancel, which fails with
	// ErrDialogOutsideDialog once outside Calling/Trying/Early. Bye returns the same
	// error, so this checks that Hangup surfaces the state error, not which of the
	// two methods produced it.
	c.core.state = DialogStateTerminated
	err := c.Hangup(context.Background())
	require.ErrorIs(t, err, ErrDialogOutsideDialog)
}

func TestInviteOptionHoldsCallerAndCallee(t *testing.T) {
	caller := sip.Uri{User: "alice", Host: "atlanta.com"}
	callee := sip.Uri{User: "bob", Host: "biloxi.com"}
	opt := InviteOption{Caller: caller, Callee: callee}

	require.Equal(t, "alice", opt.Caller.User)
	require.Equal(t, "bob", opt.Callee.User)
}
