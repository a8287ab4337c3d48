package sipgo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telecore/sipdialog/sip"
	"github.com/telecore/sipdialog/siptest"
)

const rawInviteWithRecordRoute = "INVITE sip:bob@192.0.2.20:5070 SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP pc33.atlanta.com;branch=z9hG4bK776asdhds\r\n" +
	"Record-Route: <sip:proxy1.atlanta.com;lr>\r\n" +
	"Record-Route: <sip:proxy2.biloxi.com;lr>\r\n" +
	"From: Alice <sip:alice@atlanta.com>;tag=1928301774\r\n" +
	"To: Bob <sip:bob@biloxi.com>\r\n" +
	"Contact: <sip:alice@192.0.2.10:5060>\r\n" +
	"Call-ID: a84b4c76e66710@pc33.atlanta.com\r\n" +
	"CSeq: 314159 INVITE\r\n" +
	"Content-Length: 0\r\n\r\n"

func newTestServerDialog(t *testing.T) (*ServerInviteDialog, *siptest.ServerTxRecorder) {
	t.Helper()
	msg := mustParseMessage(t, rawInviteWithRecordRoute)
	req := msg.(*sip.Request)
	rec := siptest.NewServerTxRecorder(req)
	d, err := newServerInviteDialogFromInvite(testEndpoint(), req, rec.ServerTx)
	require.NoError(t, err)
	return d, rec
}

func TestNewServerInviteDialogSeedsTrying(t *testing.T) {
	d, _ := newTestServerDialog(t)
	require.Equal(t, DialogStateTrying, d.State())
	require.NotEmpty(t, d.ID().FromTag, "UAS generates its own local tag immediately, stored as FromTag (the local slot)")
	require.Equal(t, "1928301774", d.ID().ToTag)
}

func TestNewServerInviteDialogRouteSetPreservesOriginalOrder(t *testing.T) {
	d, _ := newTestServerDialog(t)
	route := d.core.routeSetSnapshot()
	require.Len(t, route, 2)
	require.Equal(t, "proxy1.atlanta.com", route[0].Host)
	require.Equal(t, "proxy2.biloxi.com", route[1].Host)
}

func TestNewServerInviteDialogRemoteURIFromContact(t *testing.T) {
	d, _ := newTestServerDialog(t)
	require.Equal(t, "192.0.2.10", d.core.remoteURI.Host)
	require.Equal(t, 5060, d.core.remoteURI.Port)
}

func TestServerInviteDialogRingingMovesToEarly(t *testing.T) {
	d, rec := newTestServerDialog(t)
	require.NoError(t, d.Ringing())
	require.Equal(t, DialogStateEarly, d.State())

	responses := rec.Result()
	require.Len(t, responses, 1)
	require.Equal(t, 180, responses[0].StatusCode)
}

func TestServerInviteDialogAcceptMovesToWaitAck(t *testing.T) {
	d, rec := newTestServerDialog(t)
	require.NoError(t, d.Accept(nil))
	require.Equal(t, DialogStateWaitAck, d.State())

	responses := rec.Result()
	require.Len(t, responses, 1)
	require.Equal(t, 200, responses[0].StatusCode)
}

func TestServerInviteDialogRejectBusyTerminates(t *testing.T) {
	d, rec := newTestServerDialog(t)
	require.NoError(t, d.Reject(486, "Busy Here"))
	require.Equal(t, DialogStateTerminated, d.State())

	responses := rec.Result()
	require.Len(t, responses, 1)
	require.Equal(t, 486, responses[0].StatusCode)
}

func TestServerInviteDialogOnAckReachesConfirmed(t *testing.T) {
	d, _ := newTestServerDialog(t)
	require.NoError(t, d.Accept(nil))

	ack := sip.NewRequest(sip.ACK, d.core.remoteURI)
	d.OnAck(ack)
	require.Equal(t, DialogStateConfirmed, d.State())
}

func TestHandleMidDialogRequestRejectsOutOfOrderCSeq(t *testing.T) {
	d, _ := newTestServerDialog(t)
	require.NoError(t, d.Accept(nil))
	ack := sip.NewRequest(sip.ACK, d.core.remoteURI)
	d.OnAck(ack)

	byeRaw := "BYE sip:alice@192.0.2.10:5060 SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP biloxi.com;branch=z9hG4bK-bye\r\n" +
		"From: Bob <sip:bob@biloxi.com>;tag=" + d.ID().ToTag + "\r\n" +
		"To: Alice <sip:alice@atlanta.com>;tag=1928301774\r\n" +
		"Call-ID: a84b4c76e66710@pc33.atlanta.com\r\n" +
		"CSeq: 1 BYE\r\n" +
		"Content-Length: 0\r\n\r\n"
	byeMsg := mustParseMessage(t, byeRaw)
	byeReq := byeMsg.(*sip.Request)
	byeRec := siptest.NewServerTxRecorder(byeReq)

	err := d.HandleMidDialogRequest(byeReq, byeRec.ServerTx)
	require.NoError(t, err)

	responses := byeRec.Result()
	require.Len(t, responses, 1)
	require.Equal(t, 500, responses[0].StatusCode, "remote_seq already holds the initial INVITE's CSeq 314159, so a BYE with the lower CSeq 1 must be rejected")
	require.Equal(t, DialogStateConfirmed, d.State(), "a rejected mid-dialog request must not change dialog state")
}

func TestHandleMidDialogRequestByeTerminates(t *testing.T) {
	d, _ := newTestServerDialog(t)
	require.NoError(t, d.Accept(nil))
	ack := sip.NewRequest(sip.ACK, d.core.remoteURI)
	d.OnAck(ack)

	byeRaw := "BYE sip:alice@192.0.2.10:5060 SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP biloxi.com;branch=z9hG4bK-bye\r\n" +
		"From: Bob <sip:bob@biloxi.com>;tag=" + d.ID().ToTag + "\r\n" +
		"To: Alice <sip:alice@atlanta.com>;tag=1928301774\r\n" +
		"Call-ID: a84b4c76e66710@pc33.atlanta.com\r\n" +
		"CSeq: 314160 BYE\r\n" +
		"Content-Length: 0\r\n\r\n"
	byeMsg := mustParseMessage(t, byeRaw)
	byeReq := byeMsg.(*sip.Request)
	byeRec := siptest.NewServerTxRecorder(byeReq)

	err := d.HandleMidDialogRequest(byeReq, byeRec.ServerTx)
	require.NoError(t, err)

	responses := byeRec.Result()
	require.Len(t, responses, 1)
	require.Equal(t, 200, responses[0].StatusCode)
	require.Equal(t, DialogStateTerminated, d.State())
}
