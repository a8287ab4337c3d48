package sipgo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telecore/sipdialog/sip"
	"github.com/telecore/sipdialog/siptest"
)

func newTestDialogLayer() *DialogLayer {
	return &DialogLayer{
		clients:  make(map[string]*ClientInviteDialog),
		servers:  make(map[string]*ServerInviteDialog),
		endpoint: testEndpoint(),
	}
}

// seededServerID returns the id of the server dialog the layer seeded for the initial
// INVITE req. That id carries the UAS's generated local tag as FromTag, which the
// INVITE itself does not contain, so it is found by Call-ID and remote tag.
func seededServerID(t *testing.T, l *DialogLayer, req *sip.Request) DialogID {
	t.Helper()
	remote := DialogIDFromRequestUAS(req)
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, d := range l.servers {
		if id := d.ID(); id.CallID == remote.CallID && id.ToTag == remote.ToTag {
			return id
		}
	}
	t.Fatalf("no server dialog seeded for %s", remote)
	return DialogID{}
}

func TestDialogLayerHandleRequestSeedsNewInvite(t *testing.T) {
	l := newTestDialogLayer()
	msg := mustParseMessage(t, rawInviteWithRecordRoute)
	req := msg.(*sip.Request)
	rec := siptest.NewServerTxRecorder(req)

	l.handleRequest(req, rec.ServerTx)

	id := seededServerID(t, l, req)
	d, ok := l.LookupServer(id)
	require.True(t, ok)
	require.Equal(t, DialogStateTrying, d.State())
}

func TestDialogLayerHandleRequestDispatchesMidDialogToExistingServer(t *testing.T) {
	l := newTestDialogLayer()
	msg := mustParseMessage(t, rawInviteWithRecordRoute)
	req := msg.(*sip.Request)
	rec := siptest.NewServerTxRecorder(req)
	l.handleRequest(req, rec.ServerTx)

	id := seededServerID(t, l, req)
	d, ok := l.LookupServer(id)
	require.True(t, ok)
	require.NoError(t, d.Accept(nil))

	ackRaw := "ACK sip:alice@192.0.2.10:5060 SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK-ack\r\n" +
		"From: Alice <sip:alice@atlanta.com>;tag=1928301774\r\n" +
		"To: Bob <sip:bob@biloxi.com>;tag=" + id.FromTag + "\r\n" +
		"Call-ID: a84b4c76e66710@pc33.atlanta.com\r\n" +
		"CSeq: 314159 ACK\r\n" +
		"Content-Length: 0\r\n\r\n"
	ackReq := mustParseMessage(t, ackRaw).(*sip.Request)

	l.handleRequest(ackReq, nil)
	require.Equal(t, DialogStateConfirmed, d.State())
}

func TestDialogLayerHandleRequestUnmatchedGets481(t *testing.T) {
	l := newTestDialogLayer()
	byeRaw := "BYE sip:bob@biloxi.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK-stray\r\n" +
		"From: Alice <sip:alice@atlanta.com>;tag=stray-from\r\n" +
		"To: Bob <sip:bob@biloxi.com>;tag=stray-to\r\n" +
		"Call-ID: stray-call-id\r\n" +
		"CSeq: 1 BYE\r\n" +
		"Content-Length: 0\r\n\r\n"
	req := mustParseMessage(t, byeRaw).(*sip.Request)
	rec := siptest.NewServerTxRecorder(req)

	l.handleRequest(req, rec.ServerTx)

	responses := rec.Result()
	require.Len(t, responses, 1)
	require.Equal(t, 481, responses[0].StatusCode)
}

func TestDialogLayerRemoveIsIdempotent(t *testing.T) {
	l := newTestDialogLayer()
	id := DialogID{CallID: "cid", FromTag: "ft"}
	d := newClientInviteDialog(l.endpoint, id)
	l.clients[id.String()] = d

	require.NotPanics(t, func() {
		l.Remove(id)
		l.Remove(id)
	})
	_, ok := l.LookupClient(id)
	require.False(t, ok)
}

func TestNextGlobalSeqIsMonotonic(t *testing.T) {
	a := nextGlobalSeq()
	b := nextGlobalSeq()
	require.Less(t, a, b)
}
