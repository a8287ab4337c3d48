package sipgo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telecore/sipdialog/sip"
)

func mustParseMessage(t *testing.T, raw string) sip.Message {
	t.Helper()
	msg, err := sip.ParseMessage([]byte(raw))
	require.NoError(t, err)
	return msg
}

const rawInvite = "INVITE sip:bob@biloxi.com SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds\r\n" +
	"From: Alice <sip:alice@atlanta.com>;tag=1928301774\r\n" +
	"To: Bob <sip:bob@biloxi.com>\r\n" +
	"Call-ID: a84b4c76e66710@pc33.atlanta.com\r\n" +
	"CSeq: 314159 INVITE\r\n" +
	"Content-Length: 0\r\n\r\n"

func TestDialogIDFromRequestUAC(t *testing.T) {
	req := mustParseMessage(t, rawInvite).(*sip.Request)
	id := DialogIDFromRequestUAC(req)
	require.Equal(t, "a84b4c76e66710@pc33.atlanta.com", id.CallID)
	require.Equal(t, "1928301774", id.FromTag)
	require.Empty(t, id.ToTag)
}

func TestDialogIDFromRequestUAS(t *testing.T) {
	req := mustParseMessage(t, rawInvite).(*sip.Request)
	id := DialogIDFromRequestUAS(req)
	// On the UAS side, the remote (From) tag is the peer's, and there is no local
	// (To) tag yet on the initial INVITE.
	require.Equal(t, "1928301774", id.ToTag)
	require.Empty(t, id.FromTag)
}

func TestDialogIDFromMessageMissingTagsAreEmptyNotError(t *testing.T) {
	req := mustParseMessage(t, rawInvite).(*sip.Request)
	id := DialogIDFromRequestUAC(req)
	require.Empty(t, id.ToTag)
}

func TestDialogIDStringAndWithToTag(t *testing.T) {
	id := DialogID{CallID: "cid", FromTag: "ftag"}
	require.Equal(t, "cid__ftag__", id.String())

	withTo := id.WithToTag("ttag")
	require.Equal(t, "cid__ftag__ttag", withTo.String())
	// WithToTag must not mutate the receiver.
	require.Empty(t, id.ToTag)
}
