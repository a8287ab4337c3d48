package sipgo

import (
	"fmt"
	"net"

	"github.com/telecore/sipdialog/sip"
)

// Endpoint is the process-wide facade the dialog core runs on top of: it owns the
// transaction and transport layers and knows this process's own advertised identity
// (host, port, User-Agent string). Dialogs hold a non-owning reference to it.
//
// Grounded on ua.go's UserAgent (options pattern, self-IP resolution) generalized to
// build on the sip/ package's TransactionLayer/TransportLayer instead of the superseded
// root transaction/transport packages.
type Endpoint struct {
	name string
	ip   net.IP
	host string
	port int

	tp *sip.TransportLayer
	tx *sip.TransactionLayer
}

type EndpointOption func(e *Endpoint) error

// WithEndpointUserAgent sets the User-Agent header value stamped on outgoing requests.
func WithEndpointUserAgent(ua string) EndpointOption {
	return func(e *Endpoint) error {
		e.name = ua
		return nil
	}
}

// WithEndpointAddr fixes the host/port this endpoint advertises, skipping self-IP
// resolution.
func WithEndpointAddr(ip string, port int) EndpointOption {
	return func(e *Endpoint) error {
		addr, err := net.ResolveIPAddr("ip", ip)
		if err != nil {
			return err
		}
		e.ip = addr.IP
		e.host = addr.IP.String()
		e.port = port
		return nil
	}
}

// WithEndpointTransportLayer lets callers supply a pre-built transport layer, e.g. one
// configured with TLS certificates or a custom DNS resolver.
func WithEndpointTransportLayer(tp *sip.TransportLayer) EndpointOption {
	return func(e *Endpoint) error {
		e.tp = tp
		return nil
	}
}

// NewEndpoint builds an endpoint with default UDP/TCP/TLS/WS/WSS transports and
// resolves this host's own non-loopback IP unless WithEndpointAddr was given.
func NewEndpoint(options ...EndpointOption) (*Endpoint, error) {
	e := &Endpoint{
		name: "sipdialog",
		port: 5060,
	}

	for _, o := range options {
		if err := o(e); err != nil {
			return nil, err
		}
	}

	if e.ip == nil {
		ip, err := sip.ResolveSelfIP()
		if err != nil {
			return nil, fmt.Errorf("resolving self ip: %w", err)
		}
		e.ip = ip
		e.host = ip.String()
	}

	if e.tp == nil {
		e.tp = sip.NewTransportLayer(net.DefaultResolver, sip.NewParser(), nil)
	}
	e.tx = sip.NewTransactionLayer(e.tp)

	return e, nil
}

func (e *Endpoint) Close() {
	e.tx.Close()
	e.tp.Close()
}

func (e *Endpoint) TransactionLayer() *sip.TransactionLayer { return e.tx }
func (e *Endpoint) TransportLayer() *sip.TransportLayer     { return e.tp }
func (e *Endpoint) UserAgent() string                       { return e.name }
func (e *Endpoint) Addr() sip.Addr                          { return sip.Addr{IP: e.ip, Port: e.port} }

// GetVia builds a Via header for a new client transaction. When addr is nil the
// endpoint's own advertised address is used; when branch is empty a fresh RFC 3261
// branch (the "z9hG4bK" magic cookie plus random suffix) is stamped, satisfying the
// "endpoint.get_via(addr?, branch?) -> Via" consumed interface.
func (e *Endpoint) GetVia(addr *sip.Addr, branch string) *sip.ViaHeader {
	if addr == nil {
		a := e.Addr()
		addr = &a
	}
	if branch == "" {
		branch = sip.GenerateBranch()
	}

	via := &sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       sip.TransportUDP,
		Host:            addr.IP.String(),
		Port:            addr.Port,
		Params:          sip.NewParams(),
	}
	via.Params.Add("branch", branch)
	via.Params.Add("rport", "")
	return via
}

// MakeRequest builds a bare request skeleton: start line, Via, From, To, CSeq, a
// generated Call-ID, Max-Forwards and the endpoint's User-Agent, matching the
// "endpoint.make_request(method, uri, via, from, to, cseq) -> Request" consumed
// interface: callers above this layer own dialog identity, this layer only assembles
// a well-formed message. Registration uses it for REGISTER; dialog-level requests do
// not - dialogCore.makeRequest assembles its own, with the dialog's Call-ID and its
// Route/Contact/body.
func (e *Endpoint) MakeRequest(method sip.RequestMethod, recipient sip.Uri, via *sip.ViaHeader, from *sip.FromHeader, to *sip.ToHeader, cseq uint32) *sip.Request {
	req := sip.NewRequest(method, recipient)
	req.AppendHeader(via)
	req.AppendHeader(from)
	req.AppendHeader(to)
	callID := sip.CallID(sip.GenerateTagN(24))
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeq{SeqNo: cseq, MethodName: method})
	mf := sip.MaxForwards(70)
	req.AppendHeader(&mf)
	if e.name != "" {
		req.AppendHeader(&sip.GenericHeader{HeaderName: "User-Agent", Contents: e.name})
	}
	return req
}
