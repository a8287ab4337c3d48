package sipgo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telecore/sipdialog/sip"
)

func TestGetViaStampsBranchWhenEmpty(t *testing.T) {
	e := testEndpoint()
	via := e.GetVia(nil, "")
	branch, ok := via.Params.Get("branch")
	require.True(t, ok)
	require.NotEmpty(t, branch)
	_, hasRport := via.Params.Get("rport")
	require.True(t, hasRport)
}

func TestGetViaPreservesSuppliedBranch(t *testing.T) {
	e := testEndpoint()
	via := e.GetVia(nil, "z9hG4bK-fixed")
	branch, _ := via.Params.Get("branch")
	require.Equal(t, "z9hG4bK-fixed", branch)
}

func TestGetViaUsesSuppliedAddr(t *testing.T) {
	e := testEndpoint()
	addr := &sip.Addr{IP: e.ip, Port: 5070}
	via := e.GetVia(addr, "")
	require.Equal(t, 5070, via.Port)
}

func TestMakeRequestAssemblesSkeleton(t *testing.T) {
	e := testEndpoint()
	via := e.GetVia(nil, "")
	from := &sip.FromHeader{Address: sip.Uri{User: "alice", Host: "atlanta.com"}, Params: sip.NewParams()}
	to := &sip.ToHeader{Address: sip.Uri{User: "bob", Host: "biloxi.com"}, Params: sip.NewParams()}

	req := e.MakeRequest(sip.REGISTER, sip.Uri{Host: "atlanta.com"}, via, from, to, 1)

	require.Equal(t, sip.REGISTER, req.Method)
	callID, ok := req.CallID()
	require.True(t, ok)
	require.NotEmpty(t, callID.String())

	cseq, ok := req.CSeq()
	require.True(t, ok)
	require.Equal(t, uint32(1), cseq.SeqNo)
}
