package sipgo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telecore/sipdialog/sip"
)

// dialogCore is the state and behavior shared by client and server INVITE dialogs
// (RFC 3261 §12). A single mutex guards the mutable identity/routing fields; local_seq
// and remote_seq get their own atomics since they are read and incremented far more
// often than the rest of the fields change, and never need to be consistent with them
// under the same lock.
type dialogCore struct {
	mu sync.Mutex

	id          DialogID
	state       DialogStateKind
	terminated  TerminatedInfo
	to          sip.ToHeader
	from        sip.FromHeader
	routeSet    []sip.Uri
	localSeq    atomic.Uint32
	remoteSeq   atomic.Uint32
	localTag    string
	remoteURI   sip.Uri
	contact     *sip.ContactHeader
	credential  *Credential
	initialReq  *sip.Request
	pubAddr     *sip.Addr

	cancel context.CancelFunc
	ctx    context.Context

	stateCh chan DialogState

	endpoint *Endpoint
}

func newDialogCore(ep *Endpoint, id DialogID) *dialogCore {
	ctx, cancel := context.WithCancel(context.Background())
	return &dialogCore{
		id:       id,
		endpoint: ep,
		ctx:      ctx,
		cancel:   cancel,
		stateCh:  make(chan DialogState, 64),
	}
}

// ID returns the dialog's current id. Callers must not cache this across a to-tag
// learning event - use the DialogLayer's lookup instead of holding a stale copy.
func (d *dialogCore) ID() DialogID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

func (d *dialogCore) State() DialogStateKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *dialogCore) Events() <-chan DialogState {
	return d.stateCh
}

// setPersistentState overwrites d.state and publishes the event. Transient kinds
// (Updated/Notify/Info/Options) must go through publishTransient instead: they ride
// the same channel but never land in d.state.
func (d *dialogCore) setPersistentState(kind DialogStateKind, res *sip.Response, req *sip.Request) {
	d.mu.Lock()
	d.state = kind
	d.mu.Unlock()
	publishState(d.stateCh, DialogState{Kind: kind, Response: res, Request: req})
}

func (d *dialogCore) setTerminated(reason TerminatedReason, statusCode int) {
	info := TerminatedInfo{Reason: reason, StatusCode: statusCode}
	d.mu.Lock()
	d.state = DialogStateTerminated
	d.terminated = info
	d.mu.Unlock()
	publishState(d.stateCh, DialogState{Kind: DialogStateTerminated, Terminated: info})
	d.cancel()
}

func (d *dialogCore) publishTransient(kind DialogStateKind, req *sip.Request) {
	publishState(d.stateCh, DialogState{Kind: kind, Request: req})
}

// learnToTag installs the peer's to-tag the first time it is seen; later forks that
// carry a different tag are ignored (first-fork-wins, a documented limitation rather
// than full fork support). Returns the learned id and whether this call is the one
// that learned it.
func (d *dialogCore) learnToTag(tag string) (DialogID, bool) {
	if tag == "" {
		return d.ID(), false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.id.ToTag != "" {
		return d.id, false
	}
	d.id.ToTag = tag
	d.to.Params = d.to.Params.Add("tag", tag)
	return d.id, true
}

// nextLocalSeq returns the next CSeq number for a new outgoing request. CANCEL is the
// sole exception (RFC 3261 §9.1): it reuses the CSeq of the INVITE it cancels, so
// callers building a CANCEL must not call this and instead reuse the stored value.
func (d *dialogCore) nextLocalSeq() uint32 {
	return d.localSeq.Add(1)
}

// checkRemoteSeq enforces strict monotonicity on inbound mid-dialog requests: a CSeq
// not strictly greater than the last seen one is a retransmission or reordering and
// must be rejected (by the caller, typically with a 500) rather than applied.
func (d *dialogCore) checkRemoteSeq(seq uint32) bool {
	for {
		cur := d.remoteSeq.Load()
		if seq <= cur && cur != 0 {
			return false
		}
		if d.remoteSeq.CompareAndSwap(cur, seq) {
			return true
		}
	}
}

func (d *dialogCore) setRemoteSeq(seq uint32) {
	d.remoteSeq.Store(seq)
}

func (d *dialogCore) routeSetSnapshot() []sip.Uri {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]sip.Uri, len(d.routeSet))
	copy(out, d.routeSet)
	return out
}

// makeRequest assembles a mid- or initial-dialog request in the header order the
// spec's make_request operation prescribes: custom headers first, then Via, Call-ID,
// From, To (with the learned to-tag if any), CSeq (the cseq argument as given - callers
// pass nextLocalSeq() for a new request, CANCEL passes the INVITE's own CSeq), User-Agent, Contact if a local
// one is set, every stored Route header in order, Max-Forwards: 70, and Content-Length
// if a body is attached. The Request-URI is the dialog's remote_uri, not whatever URI
// the caller's headers might otherwise imply.
func (d *dialogCore) makeRequest(method sip.RequestMethod, cseq uint32, extraHeaders []sip.Header, body []byte) *sip.Request {
	d.mu.Lock()
	id := d.id
	from := d.from
	to := d.to
	routeSet := make([]sip.Uri, len(d.routeSet))
	copy(routeSet, d.routeSet)
	remoteURI := d.remoteURI
	contact := d.contact
	d.mu.Unlock()

	req := sip.NewRequest(method, remoteURI)

	for _, h := range extraHeaders {
		req.AppendHeader(h)
	}

	via := d.endpoint.GetVia(d.publicAddress(), "")
	req.AppendHeader(via)

	callID := sip.CallID(id.CallID)
	req.AppendHeader(&callID)

	fromCopy := from
	req.AppendHeader(&fromCopy)

	toCopy := to
	req.AppendHeader(&toCopy)

	req.AppendHeader(&sip.CSeq{SeqNo: cseq, MethodName: method})

	req.AppendHeader(&sip.GenericHeader{HeaderName: "User-Agent", Contents: d.endpoint.UserAgent()})

	if contact != nil {
		c := *contact
		req.AppendHeader(&c)
	}

	for _, r := range routeSet {
		req.AppendHeader(&sip.RouteHeader{Address: r})
	}

	mf := sip.MaxForwards(70)
	req.AppendHeader(&mf)

	if len(body) > 0 {
		req.SetBody(body)
	}

	return req
}

// makeCancel builds a CANCEL for an in-flight INVITE: same Call-ID/From/To/Route-set
// and, critically, the INVITE's own CSeq number (the one exception to strict
// per-request CSeq increment).
func (d *dialogCore) makeCancel(invite *sip.Request) *sip.Request {
	cseqH, _ := invite.CSeq()
	seq := uint32(1)
	if cseqH != nil {
		seq = cseqH.SeqNo
	}
	req := d.makeRequest(sip.CANCEL, seq, nil, nil)
	req.Recipient = invite.Recipient
	return req
}

// makeResponse builds a response to req in the order the spec's make_response
// operation prescribes: copy Via/From/To/CSeq/Call-ID/all Record-Route verbatim from
// the request, add the dialog's local tag to To for any non-100 status if the request
// didn't already carry one, append caller headers (last write wins per header name),
// set Content-Length, stamp User-Agent.
func (d *dialogCore) makeResponse(req *sip.Request, statusCode int, reason string, extraHeaders []sip.Header, body []byte) *sip.Response {
	res := sip.NewResponse(statusCode, reason)
	res.SipVersion = req.SipVersion

	for _, v := range req.GetHeaders("Via") {
		if via, ok := v.(*sip.ViaHeader); ok {
			res.AppendHeader(via.Clone())
		}
	}

	if callID, ok := req.CallID(); ok && callID != nil {
		c := *callID
		res.AppendHeader(&c)
	}

	if fromH, ok := req.From(); ok && fromH != nil {
		clone := *fromH
		res.AppendHeader(&clone)
	}

	if toH, ok := req.To(); ok && toH != nil {
		clone := *toH
		if statusCode != 100 {
			if _, has := clone.Params.Get("tag"); !has {
				clone.Params = clone.Params.Add("tag", d.localTag)
			}
		}
		res.AppendHeader(&clone)
	}

	if cseqH, ok := req.CSeq(); ok && cseqH != nil {
		c := *cseqH
		res.AppendHeader(&c)
	}

	for _, rr := range req.GetHeaders("Record-Route") {
		if rrh, ok := rr.(*sip.RecordRouteHeader); ok {
			res.AppendHeader(rrh.Clone())
		}
	}

	for _, h := range extraHeaders {
		res.ReplaceHeader(h)
	}

	res.AppendHeader(&sip.GenericHeader{HeaderName: "User-Agent", Contents: d.endpoint.UserAgent()})

	if len(body) > 0 {
		res.SetBody(body)
	}

	return res
}

func (d *dialogCore) publicAddress() *sip.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pubAddr
}

func (d *dialogCore) setPublicAddress(addr sip.Addr) {
	d.mu.Lock()
	d.pubAddr = &addr
	d.mu.Unlock()
}

// stripToTransportParam keeps only the "transport" URI parameter, following RFC 3261
// §16.12's instruction to remove all other parameters from a Route URI before using
// it to resolve the next hop.
func stripToTransportParam(u sip.Uri) sip.Uri {
	out := u
	if tp, ok := u.UriParams.Get("transport"); ok {
		params := sip.NewParams()
		params = params.Add("transport", tp)
		out.UriParams = params
	} else {
		out.UriParams = nil
	}
	return out
}

// doRequest sends req as a new client transaction, applying RFC 3261 §16.12 loose
// routing (resolve the first Route URI when present, else the Request-URI itself),
// and the authenticate-once-then-give-up retry loop on 401/407. It returns the first
// final response, or an error. Provisional 180/183 responses are reported as Early
// events on the dialog's own state channel as they pass through; everything else
// the transaction layer hands back before a final response is ignored here (100
// Trying, retransmissions of provisionals).
func (d *dialogCore) doRequest(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	route := d.routeSetSnapshot()

	var lookupURI sip.Uri
	if len(route) > 0 {
		lookupURI = stripToTransportParam(route[0])
	} else {
		lookupURI = req.Recipient
	}

	_, raddr, err := d.endpoint.TransportLayer().Lookup(ctx, &lookupURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDNSResolution, err)
	}
	req.SetDestination(raddr.String())

	authenticated := false

	for {
		tx, err := d.endpoint.TransactionLayer().Request(ctx, req)
		if err != nil {
			return nil, &ErrTransport{Addr: raddr.String(), Err: err}
		}

		res, err := d.waitFinal(ctx, tx)
		tx.Terminate()
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, nil
		}

		switch {
		case res.StatusCode == 401 || res.StatusCode == 407:
			if authenticated {
				d.setTerminated(TerminatedProxyAuthRequired, res.StatusCode)
				return res, fmt.Errorf("%w: second %d challenge after retry", ErrAuthFailed, res.StatusCode)
			}
			if d.credential == nil {
				return res, &ErrUnexpectedResponse{Res: res}
			}
			newCSeq := d.nextLocalSeq()
			if req.Method == sip.CANCEL {
				cseqH, _ := req.CSeq()
				if cseqH != nil {
					newCSeq = cseqH.SeqNo
				}
			}
			newReq, err := authenticateRequest(req, res, *d.credential)
			if err != nil {
				return res, fmt.Errorf("%w: %v", ErrAuthFailed, err)
			}
			if cseqH, ok := newReq.CSeq(); ok {
				cseqH.SeqNo = newCSeq
			}
			via := d.endpoint.GetVia(d.publicAddress(), "")
			newReq.RemoveHeader("Via")
			newReq.PrependHeader(via)
			newReq.SetDestination(raddr.String())
			req = newReq
			authenticated = true
			continue
		default:
			return res, nil
		}
	}
}

// waitFinal drains provisional responses (publishing Early events for 180/183) until
// a final response, context cancellation, or the transaction terminates without one.
func (d *dialogCore) waitFinal(ctx context.Context, tx *sip.ClientTx) (*sip.Response, error) {
	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				return nil, nil
			}
			if res.StatusCode < 200 {
				if res.StatusCode == 180 || res.StatusCode == 183 {
					if toH, ok := res.To(); ok && toH != nil {
						if tag, has := toH.Params.Get("tag"); has {
							d.learnToTag(tag)
						}
					}
					d.setPersistentState(DialogStateEarly, res, nil)
				}
				continue
			}
			return res, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.ctx.Done():
			return nil, d.ctx.Err()
		case <-time.After(32 * time.Second):
			return nil, ErrTransactionTimeout
		}
	}
}
