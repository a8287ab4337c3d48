package sipgo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telecore/sipdialog/sip"
)

func TestErrUnexpectedResponseMessage(t *testing.T) {
	res := sip.NewResponse(486, "Busy Here")
	err := &ErrUnexpectedResponse{Res: res}
	require.Contains(t, err.Error(), "486")
	require.Contains(t, err.Error(), "Busy Here")
}

func TestErrUnexpectedResponseNilResponse(t *testing.T) {
	err := &ErrUnexpectedResponse{}
	require.Contains(t, err.Error(), "empty response")
}

func TestErrDialogProtocolIncludesID(t *testing.T) {
	id := DialogID{CallID: "cid", FromTag: "ft", ToTag: "tt"}
	err := &ErrDialogProtocol{ID: id, Msg: "out of order CSeq"}
	require.Contains(t, err.Error(), id.String())
	require.Contains(t, err.Error(), "out of order CSeq")
}

func TestErrTransportUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &ErrTransport{Addr: "127.0.0.1:5060", Err: inner}
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "127.0.0.1:5060")
}
