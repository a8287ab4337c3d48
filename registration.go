package sipgo

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/telecore/sipdialog/sip"
)

const defaultRegistrationExpires = 50

// Registration drives a REGISTER refresh cycle against a registrar: it discovers this
// endpoint's reflexive (NAT-traversed) address from received/rport on the registrar's
// responses and keeps its advertised Contact in sync with that discovery.
type Registration struct {
	mu sync.Mutex

	endpoint   *Endpoint
	user       sip.Uri
	registrar  sip.Uri
	credential *Credential
	allow      []sip.RequestMethod

	lastSeq   uint32
	contact   *sip.ContactHeader
	pubAddr   *sip.Addr
	expiresIn uint32

	metrics *Metrics
}

// RegistrationOption configures a Registration.
type RegistrationOption func(r *Registration)

// WithRegistrationCredential sets the digest credential used on challenge.
func WithRegistrationCredential(cred Credential) RegistrationOption {
	return func(r *Registration) { r.credential = &cred }
}

// WithRegistrationAllow overrides the default Allow method list.
func WithRegistrationAllow(methods ...sip.RequestMethod) RegistrationOption {
	return func(r *Registration) { r.allow = methods }
}

// WithRegistrationMetrics wires an optional Prometheus metrics recorder.
func WithRegistrationMetrics(m *Metrics) RegistrationOption {
	return func(r *Registration) { r.metrics = m }
}

// NewRegistration builds a Registration for user at registrar.
func NewRegistration(ep *Endpoint, user sip.Uri, registrar sip.Uri, options ...RegistrationOption) *Registration {
	r := &Registration{
		endpoint:  ep,
		user:      user,
		registrar: registrar,
		allow: []sip.RequestMethod{
			sip.INVITE, sip.ACK, sip.BYE, sip.CANCEL, sip.OPTIONS, sip.INFO, sip.UPDATE, sip.NOTIFY,
		},
		expiresIn: defaultRegistrationExpires,
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// DiscoveredPublicAddress returns the (ip, port) this endpoint has learned it is
// reachable at through NAT, if any REGISTER response has revealed one yet.
func (r *Registration) DiscoveredPublicAddress() (sip.Addr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubAddr == nil {
		return sip.Addr{}, false
	}
	return *r.pubAddr, true
}

// Expires returns the expiry this registration is currently operating under, read
// from the Contact's expires param on the last 200 OK, defaulting to 50 seconds when
// absent.
func (r *Registration) Expires() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expiresIn
}

// buildContact returns the cached Contact header, building (and caching) a fresh one
// if none exists yet or NAT discovery has invalidated it. When a public address has
// been discovered the Contact carries the RFC 5626 "ob" outbound marker and uses the
// discovered host:port; otherwise it falls back to the first non-loopback local IPv4.
func (r *Registration) buildContact() (*sip.ContactHeader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.contact != nil {
		return r.contact, nil
	}

	host := r.endpoint.Addr().IP.String()
	port := r.endpoint.Addr().Port
	if r.pubAddr != nil {
		host = r.pubAddr.IP.String()
		port = r.pubAddr.Port
	} else if host == "" || host == "<nil>" {
		ip, _, err := sip.ResolveInterfacesIP("ip4", nil)
		if err != nil {
			return nil, fmt.Errorf("resolving local ip for contact: %w", err)
		}
		host = ip.String()
	}

	contactURI := sip.Uri{User: r.user.User, Host: host, Port: port}
	params := sip.NewParams()
	if r.pubAddr != nil {
		params = params.Add("ob", "")
	}

	c := &sip.ContactHeader{Address: contactURI, Params: params}
	r.contact = c
	return c, nil
}

// invalidateContact forces buildContact to recompute on next use, following the
// original's rule that any new NAT information discards the cached Contact.
func (r *Registration) invalidateContact() {
	r.mu.Lock()
	r.contact = nil
	r.mu.Unlock()
}

// extractReceivedRport scans every Via header on msg for received/rport params,
// returning the last (topmost-added, closest to us) one found. Both params must be
// present on the same Via - a Via carrying only one of the two is not NAT-discovery
// evidence and is skipped (original_source/registration.rs requires the pair).
func extractReceivedRport(msg sip.Message) (sip.Addr, bool) {
	var found sip.Addr
	ok := false
	for _, h := range msg.GetHeaders("Via") {
		via, isVia := h.(*sip.ViaHeader)
		if !isVia {
			continue
		}
		received, hasReceived := via.Params.Get("received")
		rport, hasRport := via.Params.Get("rport")
		if !hasReceived || !hasRport {
			continue
		}
		addr := sip.Addr{IP: net.ParseIP(received)}
		if p, err := strconv.Atoi(rport); err == nil {
			addr.Port = p
		} else {
			continue
		}
		found = addr
		ok = true
	}
	return found, ok
}

// applyNATDiscovery updates the registration's public address from received/rport
// params on msg, invalidating the cached Contact when the discovered address changed.
func (r *Registration) applyNATDiscovery(msg sip.Message) {
	addr, ok := extractReceivedRport(msg)
	if !ok {
		return
	}
	r.mu.Lock()
	changed := r.pubAddr == nil || r.pubAddr.String() != addr.String()
	if changed {
		r.pubAddr = &addr
	}
	r.mu.Unlock()
	if changed {
		r.invalidateContact()
	}
}

// Register sends a REGISTER, handling a single digest challenge retry and NAT
// discovery from both the challenge and the eventual 200 OK.
func (r *Registration) Register(ctx context.Context) (*sip.Response, error) {
	contact, err := r.buildContact()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.lastSeq++
	seq := r.lastSeq
	r.mu.Unlock()

	fromTag := uuid.NewString()
	from := &sip.FromHeader{Address: r.user, Params: sip.NewParams()}
	from.Params = from.Params.Add("tag", fromTag)
	to := &sip.ToHeader{Address: r.user}

	req := r.endpoint.MakeRequest(sip.REGISTER, r.registrar, r.endpoint.GetVia(r.currentAddr(), ""), from, to, seq)
	req.AppendHeader(contact)
	req.AppendHeader(r.allowHeader())

	res, err := r.sendAndAuthenticate(ctx, req, seq)
	if err != nil {
		return res, err
	}

	r.applyNATDiscovery(res)
	r.readExpires(res)

	if r.metrics != nil {
		r.metrics.RegistrationRefresh.Inc()
	}

	return res, nil
}

func (r *Registration) currentAddr() *sip.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pubAddr
}

func (r *Registration) allowHeader() sip.Header {
	names := make([]string, len(r.allow))
	for i, m := range r.allow {
		names[i] = string(m)
	}
	value := ""
	for i, n := range names {
		if i > 0 {
			value += ", "
		}
		value += n
	}
	return &sip.GenericHeader{HeaderName: "Allow", Contents: value}
}

// sendAndAuthenticate sends req as a client transaction; on 401/407 it applies NAT
// discovery from the challenge itself (the original's registrar may reveal
// received/rport even on the challenge response), retries exactly once with digest
// credentials, and returns whatever final response results. A second challenge after
// the retry is returned as-is rather than retried again.
func (r *Registration) sendAndAuthenticate(ctx context.Context, req *sip.Request, originalSeq uint32) (*sip.Response, error) {
	_, raddr, err := r.endpoint.TransportLayer().Lookup(ctx, &req.Recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDNSResolution, err)
	}
	req.SetDestination(raddr.String())

	retried := false
	for {
		tx, err := r.endpoint.TransactionLayer().Request(ctx, req)
		if err != nil {
			return nil, &ErrTransport{Addr: raddr.String(), Err: err}
		}

		var res *sip.Response
		select {
		case res = <-tx.Responses():
		case <-ctx.Done():
			tx.Terminate()
			return nil, ctx.Err()
		}
		tx.Terminate()
		if res == nil {
			return nil, ErrTransactionTimeout
		}

		if res.StatusCode == 401 || res.StatusCode == 407 {
			r.applyNATDiscovery(res)
			if retried || r.credential == nil {
				return res, nil
			}

			r.mu.Lock()
			r.lastSeq++
			newSeq := r.lastSeq
			r.mu.Unlock()

			newReq, err := authenticateRequest(req, res, *r.credential)
			if err != nil {
				return res, fmt.Errorf("%w: %v", ErrAuthFailed, err)
			}
			if cseqH, ok := newReq.CSeq(); ok {
				cseqH.SeqNo = newSeq
			}
			newReq.RemoveHeader("Via")
			newReq.PrependHeader(r.endpoint.GetVia(r.currentAddr(), ""))
			newReq.SetDestination(raddr.String())

			if newContact, err := r.buildContact(); err == nil {
				newReq.RemoveHeader("Contact")
				newReq.AppendHeader(newContact)
			}

			req = newReq
			retried = true
			continue
		}

		return res, nil
	}
}

func (r *Registration) readExpires(res *sip.Response) {
	for _, h := range res.GetHeaders("Contact") {
		c, ok := h.(*sip.ContactHeader)
		if !ok {
			continue
		}
		if v, has := c.Params.Get("expires"); has {
			if n, err := strconv.Atoi(v); err == nil {
				r.mu.Lock()
				r.expiresIn = uint32(n)
				r.mu.Unlock()
				return
			}
		}
	}
	r.mu.Lock()
	r.expiresIn = defaultRegistrationExpires
	r.mu.Unlock()
}
