package sipgo

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telecore/sipdialog/sip"
)

// testEndpoint builds an Endpoint suitable for exercising makeRequest/makeResponse and
// GetVia/UserAgent, which never touch the transport/transaction layers - no real
// socket is needed for these unit tests.
func testEndpoint() *Endpoint {
	return &Endpoint{name: "sipdialog-test", ip: net.ParseIP("192.0.2.10"), port: 5060}
}

func TestNextLocalSeqIncrementsMonotonically(t *testing.T) {
	d := newDialogCore(testEndpoint(), DialogID{CallID: "cid"})
	first := d.nextLocalSeq()
	second := d.nextLocalSeq()
	require.Equal(t, first+1, second)
}

func TestCheckRemoteSeqEnforcesStrictMonotonicity(t *testing.T) {
	d := newDialogCore(testEndpoint(), DialogID{CallID: "cid"})
	d.setRemoteSeq(5)

	require.True(t, d.checkRemoteSeq(6), "strictly greater CSeq must be accepted")
	require.False(t, d.checkRemoteSeq(6), "repeated CSeq must be rejected")
	require.False(t, d.checkRemoteSeq(4), "out-of-order CSeq must be rejected")
	require.True(t, d.checkRemoteSeq(10))
}

func TestCheckRemoteSeqAcceptsZeroAsFirstValue(t *testing.T) {
	d := newDialogCore(testEndpoint(), DialogID{CallID: "cid"})
	// remote_seq starts at its zero value (never seen a request yet); the very first
	// observed CSeq, even 0, must be accepted rather than rejected as a duplicate.
	require.True(t, d.checkRemoteSeq(0))
}

func TestLearnToTagFirstForkWins(t *testing.T) {
	d := newDialogCore(testEndpoint(), DialogID{CallID: "cid", FromTag: "ft"})
	d.to = sip.ToHeader{Address: sip.Uri{User: "bob", Host: "biloxi.com"}, Params: sip.NewParams()}

	id1, learned1 := d.learnToTag("tag-a")
	require.True(t, learned1)
	require.Equal(t, "tag-a", id1.ToTag)

	id2, learned2 := d.learnToTag("tag-b")
	require.False(t, learned2, "a second distinct tag must not overwrite the first learned one")
	require.Equal(t, "tag-a", id2.ToTag)
}

func TestLearnToTagEmptyTagIsNoop(t *testing.T) {
	d := newDialogCore(testEndpoint(), DialogID{CallID: "cid"})
	_, learned := d.learnToTag("")
	require.False(t, learned)
	require.Empty(t, d.ID().ToTag)
}

func TestMakeCancelReusesInviteCSeq(t *testing.T) {
	d := newDialogCore(testEndpoint(), DialogID{CallID: "cid", FromTag: "ft"})
	d.from = sip.FromHeader{Address: sip.Uri{User: "alice", Host: "atlanta.com"}, Params: sip.NewParams()}
	d.to = sip.ToHeader{Address: sip.Uri{User: "bob", Host: "biloxi.com"}, Params: sip.NewParams()}
	d.remoteURI = sip.Uri{User: "bob", Host: "biloxi.com"}

	invite := d.makeRequest(sip.INVITE, 7, nil, nil)
	cancel := d.makeCancel(invite)

	inviteCSeq, _ := invite.CSeq()
	cancelCSeq, _ := cancel.CSeq()
	require.NotNil(t, cancelCSeq)
	require.Equal(t, inviteCSeq.SeqNo, cancelCSeq.SeqNo)
	require.Equal(t, sip.CANCEL, cancelCSeq.MethodName)
	require.Equal(t, invite.Recipient, cancel.Recipient)
}

func TestMakeRequestIncludesRouteSetInOrder(t *testing.T) {
	d := newDialogCore(testEndpoint(), DialogID{CallID: "cid", FromTag: "ft", ToTag: "tt"})
	d.from = sip.FromHeader{Address: sip.Uri{User: "alice", Host: "atlanta.com"}, Params: sip.NewParams()}
	d.to = sip.ToHeader{Address: sip.Uri{User: "bob", Host: "biloxi.com"}, Params: sip.NewParams()}
	d.remoteURI = sip.Uri{User: "bob", Host: "biloxi.com"}
	d.routeSet = []sip.Uri{
		{Host: "proxy1.atlanta.com"},
		{Host: "proxy2.biloxi.com"},
	}

	req := d.makeRequest(sip.BYE, 2, nil, nil)
	routeHeaders := req.GetHeaders("Route")
	require.Len(t, routeHeaders, 2)

	r0, ok := routeHeaders[0].(*sip.RouteHeader)
	require.True(t, ok)
	require.Equal(t, "proxy1.atlanta.com", r0.Address.Host)

	r1, ok := routeHeaders[1].(*sip.RouteHeader)
	require.True(t, ok)
	require.Equal(t, "proxy2.biloxi.com", r1.Address.Host)
}

func TestMakeRequestUsesRemoteURIAsRequestURI(t *testing.T) {
	d := newDialogCore(testEndpoint(), DialogID{CallID: "cid", FromTag: "ft", ToTag: "tt"})
	d.from = sip.FromHeader{Address: sip.Uri{User: "alice", Host: "atlanta.com"}, Params: sip.NewParams()}
	d.to = sip.ToHeader{Address: sip.Uri{User: "bob", Host: "biloxi.com"}, Params: sip.NewParams()}
	d.remoteURI = sip.Uri{User: "bob-contact", Host: "192.0.2.20", Port: 5070}

	req := d.makeRequest(sip.BYE, 2, nil, nil)
	require.Equal(t, "bob-contact", req.Recipient.User)
	require.Equal(t, "192.0.2.20", req.Recipient.Host)
	require.Equal(t, 5070, req.Recipient.Port)
}

func TestMakeResponseEchoesRecordRouteAndTagsTo(t *testing.T) {
	d := newDialogCore(testEndpoint(), DialogID{CallID: "cid"})
	d.localTag = "uas-tag-1"

	recipient := sip.Uri{User: "bob", Host: "biloxi.com"}
	req := sip.NewRequest(sip.INVITE, recipient)
	from := &sip.FromHeader{Address: sip.Uri{User: "alice", Host: "atlanta.com"}, Params: sip.NewParams()}
	from.Params = from.Params.Add("tag", "1928301774")
	req.AppendHeader(from)
	req.AppendHeader(&sip.ToHeader{Address: recipient, Params: sip.NewParams()})
	callID := sip.CallID("call-1")
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeq{SeqNo: 1, MethodName: sip.INVITE})
	req.AppendHeader(&sip.RecordRouteHeader{Address: sip.Uri{Host: "proxy.atlanta.com"}})

	res := d.makeResponse(req, 200, "OK", nil, nil)

	require.Equal(t, 200, res.StatusCode)
	toH, ok := res.To()
	require.True(t, ok)
	tag, has := toH.Params.Get("tag")
	require.True(t, has)
	require.Equal(t, "uas-tag-1", tag)

	rrs := res.GetHeaders("Record-Route")
	require.Len(t, rrs, 1)
}

func TestMakeResponseDoesNotAddTagTo100Trying(t *testing.T) {
	d := newDialogCore(testEndpoint(), DialogID{CallID: "cid"})
	d.localTag = "uas-tag-1"

	recipient := sip.Uri{User: "bob", Host: "biloxi.com"}
	req := sip.NewRequest(sip.INVITE, recipient)
	req.AppendHeader(&sip.ToHeader{Address: recipient, Params: sip.NewParams()})
	callID := sip.CallID("call-1")
	req.AppendHeader(&callID)

	res := d.makeResponse(req, 100, "Trying", nil, nil)
	toH, ok := res.To()
	require.True(t, ok)
	_, has := toH.Params.Get("tag")
	require.False(t, has, "100 Trying must not carry a to-tag")
}

func TestRouteSetSnapshotIsACopy(t *testing.T) {
	d := newDialogCore(testEndpoint(), DialogID{CallID: "cid"})
	d.routeSet = []sip.Uri{{Host: "proxy1.example.com"}}

	snap := d.routeSetSnapshot()
	snap[0].Host = "mutated.example.com"

	require.Equal(t, "proxy1.example.com", d.routeSetSnapshot()[0].Host, "caller mutation of the snapshot must not affect the stored route set")
}

func TestStripToTransportParamKeepsOnlyTransport(t *testing.T) {
	params := sip.NewParams()
	params = params.Add("transport", "tcp")
	params = params.Add("lr", "")
	u := sip.Uri{Host: "proxy.example.com", UriParams: params}

	stripped := stripToTransportParam(u)
	tp, ok := stripped.UriParams.Get("transport")
	require.True(t, ok)
	require.Equal(t, "tcp", tp)
	require.False(t, stripped.UriParams.Has("lr"))
}

func TestStripToTransportParamNoTransport(t *testing.T) {
	u := sip.Uri{Host: "proxy.example.com"}
	stripped := stripToTransportParam(u)
	require.Nil(t, stripped.UriParams)
}

func TestSetTerminatedCancelsContext(t *testing.T) {
	d := newDialogCore(testEndpoint(), DialogID{CallID: "cid"})
	d.setTerminated(TerminatedUacBye, 0)

	require.Equal(t, DialogStateTerminated, d.State())
	select {
	case <-d.ctx.Done():
	default:
		t.Fatal("expected dialog context to be cancelled on termination")
	}
}
