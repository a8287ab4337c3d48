package sipgo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telecore/sipdialog/sip"
)

func newTestRegistration() *Registration {
	user := sip.Uri{User: "alice", Host: "atlanta.com"}
	registrar := sip.Uri{Host: "atlanta.com"}
	return NewRegistration(testEndpoint(), user, registrar)
}

func TestNewRegistrationDefaults(t *testing.T) {
	r := newTestRegistration()
	require.Equal(t, uint32(defaultRegistrationExpires), r.Expires())
	require.NotEmpty(t, r.allow)
}

func TestExtractReceivedRportFindsNATInfo(t *testing.T) {
	raw := "SIP/2.0 200 OK\r\n" +
		"Via: SIP/2.0/UDP 192.168.1.5:5060;branch=z9hG4bK1;received=203.0.113.9;rport=4999\r\n" +
		"From: Alice <sip:alice@atlanta.com>;tag=1\r\n" +
		"To: Alice <sip:alice@atlanta.com>;tag=2\r\n" +
		"Call-ID: reg-1\r\n" +
		"CSeq: 1 REGISTER\r\n" +
		"Content-Length: 0\r\n\r\n"
	res := mustParseMessage(t, raw).(*sip.Response)

	addr, ok := extractReceivedRport(res)
	require.True(t, ok)
	require.Equal(t, "203.0.113.9", addr.IP.String())
	require.Equal(t, 4999, addr.Port)
}

func TestExtractReceivedRportNoViaParams(t *testing.T) {
	raw := "SIP/2.0 200 OK\r\n" +
		"Via: SIP/2.0/UDP 192.168.1.5:5060;branch=z9hG4bK1\r\n" +
		"Call-ID: reg-1\r\n" +
		"CSeq: 1 REGISTER\r\n" +
		"Content-Length: 0\r\n\r\n"
	res := mustParseMessage(t, raw).(*sip.Response)

	_, ok := extractReceivedRport(res)
	require.False(t, ok)
}

func TestApplyNATDiscoveryInvalidatesCachedContactOnChange(t *testing.T) {
	r := newTestRegistration()
	first, err := r.buildContact()
	require.NoError(t, err)
	require.NotNil(t, first)

	raw := "SIP/2.0 401 Unauthorized\r\n" +
		"Via: SIP/2.0/UDP 192.168.1.5:5060;branch=z9hG4bK1;received=203.0.113.9;rport=4999\r\n" +
		"Call-ID: reg-1\r\n" +
		"CSeq: 1 REGISTER\r\n" +
		"Content-Length: 0\r\n\r\n"
	res := mustParseMessage(t, raw).(*sip.Response)
	r.applyNATDiscovery(res)

	addr, ok := r.DiscoveredPublicAddress()
	require.True(t, ok)
	require.Equal(t, "203.0.113.9", addr.IP.String())

	second, err := r.buildContact()
	require.NoError(t, err)
	require.Equal(t, "203.0.113.9", second.Address.Host)
	_, hasOb := second.Params.Get("ob")
	require.True(t, hasOb, "a Contact rebuilt after NAT discovery must carry the RFC 5626 outbound marker")
}

func TestApplyNATDiscoverySameAddressDoesNotInvalidateContact(t *testing.T) {
	r := newTestRegistration()
	raw := "SIP/2.0 401 Unauthorized\r\n" +
		"Via: SIP/2.0/UDP 192.168.1.5:5060;branch=z9hG4bK1;received=203.0.113.9;rport=4999\r\n" +
		"Call-ID: reg-1\r\n" +
		"CSeq: 1 REGISTER\r\n" +
		"Content-Length: 0\r\n\r\n"
	res := mustParseMessage(t, raw).(*sip.Response)

	r.applyNATDiscovery(res)
	c1, err := r.buildContact()
	require.NoError(t, err)

	r.applyNATDiscovery(res)
	c2, err := r.buildContact()
	require.NoError(t, err)

	require.Same(t, c1, c2, "an unchanged discovered address must not force a Contact rebuild")
}

func TestReadExpiresFallsBackToDefault(t *testing.T) {
	r := newTestRegistration()
	raw := "SIP/2.0 200 OK\r\n" +
		"Call-ID: reg-1\r\n" +
		"CSeq: 1 REGISTER\r\n" +
		"Content-Length: 0\r\n\r\n"
	res := mustParseMessage(t, raw).(*sip.Response)

	r.readExpires(res)
	require.Equal(t, uint32(defaultRegistrationExpires), r.Expires())
}

func TestReadExpiresFromContactParam(t *testing.T) {
	r := newTestRegistration()
	raw := "SIP/2.0 200 OK\r\n" +
		"Contact: <sip:alice@192.0.2.10:5060>;expires=120\r\n" +
		"Call-ID: reg-1\r\n" +
		"CSeq: 1 REGISTER\r\n" +
		"Content-Length: 0\r\n\r\n"
	res := mustParseMessage(t, raw).(*sip.Response)

	r.readExpires(res)
	require.Equal(t, uint32(120), r.Expires())
}
