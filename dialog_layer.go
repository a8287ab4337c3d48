package sipgo

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/telecore/sipdialog/sip"
)

// DialogLayer is the process-wide registry of active dialogs, keyed by DialogID. It
// seeds outgoing INVITE CSeqs from a package-level counter and dispatches inbound requests to
// the dialog they belong to, or seeds a new UAS dialog for an unmatched initial
// INVITE.
type DialogLayer struct {
	mu      sync.RWMutex
	clients map[string]*ClientInviteDialog
	servers map[string]*ServerInviteDialog

	endpoint *Endpoint

	metrics *Metrics
}

// DialogLayerOption configures a DialogLayer.
type DialogLayerOption func(l *DialogLayer)

// WithDialogLayerMetrics wires an optional Prometheus metrics recorder.
func WithDialogLayerMetrics(m *Metrics) DialogLayerOption {
	return func(l *DialogLayer) { l.metrics = m }
}

// NewDialogLayer builds a DialogLayer bound to ep's transport/transaction stack and
// registers it as the handler for inbound requests the transaction layer receives.
func NewDialogLayer(ep *Endpoint, options ...DialogLayerOption) *DialogLayer {
	l := &DialogLayer{
		clients:  make(map[string]*ClientInviteDialog),
		servers:  make(map[string]*ServerInviteDialog),
		endpoint: ep,
	}
	for _, o := range options {
		o(l)
	}
	ep.TransactionLayer().OnRequest(l.handleRequest)
	return l
}

func (l *DialogLayer) handleRequest(req *sip.Request, tx *sip.ServerTx) {
	if req.IsInvite() {
		if d, ok := l.matchInboundServer(req); ok {
			if err := d.HandleMidDialogRequest(req, tx); err != nil {
				sip.DefaultLogger().Warn("mid-dialog re-INVITE handling failed", "err", err)
			}
			return
		}
		l.handleNewInvite(req, tx)
		return
	}

	if req.IsAck() {
		if d, ok := l.matchInboundServer(req); ok {
			d.OnAck(req)
		}
		return
	}

	if d, ok := l.matchInboundServer(req); ok {
		if err := d.HandleMidDialogRequest(req, tx); err != nil {
			sip.DefaultLogger().Warn("mid-dialog request handling failed", "err", err)
		}
		return
	}

	res := sip.NewResponse(481, "Call/Transaction Does Not Exist")
	res.SipVersion = req.SipVersion
	for _, v := range req.GetHeaders("Via") {
		if via, ok := v.(*sip.ViaHeader); ok {
			res.AppendHeader(via.Clone())
		}
	}
	if fromH, ok := req.From(); ok {
		c := *fromH
		res.AppendHeader(&c)
	}
	if toH, ok := req.To(); ok {
		c := *toH
		res.AppendHeader(&c)
	}
	if callID, ok := req.CallID(); ok {
		c := *callID
		res.AppendHeader(&c)
	}
	if cseqH, ok := req.CSeq(); ok {
		c := *cseqH
		res.AppendHeader(&c)
	}
	_ = tx.Respond(res)
}

func (l *DialogLayer) handleNewInvite(req *sip.Request, tx *sip.ServerTx) {
	d, err := newServerInviteDialogFromInvite(l.endpoint, req, tx)
	if err != nil {
		sip.DefaultLogger().Error("failed to seed server dialog", "err", err)
		return
	}

	l.mu.Lock()
	l.servers[d.ID().String()] = d
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.DialogsActive.Inc()
		l.metrics.InviteAttempts.Inc()
	}
}

// matchInboundServer locates an existing server dialog for req by its UAS-perspective
// id.
func (l *DialogLayer) matchInboundServer(req *sip.Request) (*ServerInviteDialog, bool) {
	id := DialogIDFromRequestUAS(req)
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.servers[id.String()]
	return d, ok
}

// MakeInviteRequest returns opt unchanged: it builds no request, stamps no From tag
// and applies no defaults. The From tag, the Content-Type default and the INVITE
// itself are produced when DoInvite sends the call.
func (l *DialogLayer) MakeInviteRequest(opt InviteOption) InviteOption {
	return opt
}

// DoInvite builds a UAC dialog, registers it under a provisional id (no to-tag yet),
// drives the INVITE to completion, and - on success - rekeys the registry to the full
// id in one write-lock critical section (the "registry rekeying" invariant: exactly
// one atomic remove-old/insert-new transition per dialog).
func (l *DialogLayer) DoInvite(ctx context.Context, opt InviteOption, publicAddr *sip.Addr) (*ClientInviteDialog, *sip.Response, error) {
	callID := uuid.NewString()
	provisionalID := DialogID{CallID: callID}

	d := newClientInviteDialog(l.endpoint, provisionalID)
	d.core.localSeq.Store(nextGlobalSeq())
	if publicAddr != nil {
		d.core.setPublicAddress(*publicAddr)
	}

	l.mu.Lock()
	l.clients[provisionalID.String()] = d
	l.mu.Unlock()

	res, err := d.sendInvite(ctx, opt)
	if err != nil {
		l.Remove(provisionalID)
		return d, res, err
	}

	newID := d.ID()
	l.mu.Lock()
	delete(l.clients, provisionalID.String())
	l.clients[newID.String()] = d
	l.mu.Unlock()

	return d, res, nil
}

// Remove deletes a dialog from the registry and cancels its cancellation token. Safe
// to call more than once.
func (l *DialogLayer) Remove(id DialogID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d, ok := l.clients[id.String()]; ok {
		d.core.cancel()
		delete(l.clients, id.String())
	}
	if d, ok := l.servers[id.String()]; ok {
		d.core.cancel()
		delete(l.servers, id.String())
		if l.metrics != nil {
			l.metrics.DialogsActive.Dec()
		}
	}
}

// LookupClient returns the active client dialog for id, if any.
func (l *DialogLayer) LookupClient(id DialogID) (*ClientInviteDialog, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.clients[id.String()]
	return d, ok
}

// LookupServer returns the active server dialog for id, if any.
func (l *DialogLayer) LookupServer(id DialogID) (*ServerInviteDialog, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.servers[id.String()]
	return d, ok
}

// lastSeqSeed is the process-wide monotonic CSeq seed new dialogs draw from. It is a
// package-level atomic, not a field of DialogLayer, so every DialogLayer in the
// process shares the one counter.
var lastSeqSeed atomic.Uint32

func nextGlobalSeq() uint32 {
	return lastSeqSeed.Add(1)
}
