package sipgo

import (
	"math/rand"

	uuid "github.com/satori/go.uuid"

	"github.com/telecore/sipdialog/sip"
)

// ServerInviteDialog drives a dialog from the UAS side: Trying -> Early* -> WaitAck ->
// Confirmed, and handles mid-dialog inbound requests once established.
type ServerInviteDialog struct {
	core *dialogCore

	inviteReq *sip.Request
	inviteTx  *sip.ServerTx
}

// newServerInviteDialogFromInvite seeds a new UAS dialog from an inbound initial
// INVITE: generates the local tag and installs it as the id's FromTag (the local slot,
// see DialogIDFromRequestUAS), allocates a random 31-bit local_seq (the CSeq base for
// requests this UAS sends, not tied to the peer's), sets remote_seq from the INVITE's
// own CSeq, derives remote_uri from the request's Contact header, and builds the UAS
// route set by taking Record-Route in the ORIGINAL order the request carried it (no
// reversal - the UAC side is the one that reverses, per RFC 3261 §12.1.2).
func newServerInviteDialogFromInvite(ep *Endpoint, req *sip.Request, tx *sip.ServerTx) (*ServerInviteDialog, error) {
	id := DialogIDFromRequestUAS(req)

	d := newDialogCore(ep, id)
	s := &ServerInviteDialog{core: d, inviteReq: req, inviteTx: tx}

	fromH, ok := req.From()
	if !ok || fromH == nil {
		return nil, &ErrDialogProtocol{ID: id, Msg: "initial INVITE missing From header"}
	}
	toH, ok := req.To()
	if !ok || toH == nil {
		return nil, &ErrDialogProtocol{ID: id, Msg: "initial INVITE missing To header"}
	}
	cseqH, ok := req.CSeq()
	if !ok || cseqH == nil {
		return nil, &ErrDialogProtocol{ID: id, Msg: "initial INVITE missing CSeq header"}
	}

	localUUID, err := uuid.NewV4()
	if err != nil {
		return nil, &ErrDialogProtocol{ID: id, Msg: "generating local tag: " + err.Error()}
	}
	localTag := localUUID.String()

	toCopy := *toH
	toCopy.Params = toCopy.Params.Add("tag", localTag)

	remoteURI := fromH.Address
	if contactH, ok := req.Contact(); ok && contactH != nil {
		remoteURI = contactH.Address
	}

	var routeSet []sip.Uri
	for _, rr := range req.GetHeaders("Record-Route") {
		if rrh, ok := rr.(*sip.RecordRouteHeader); ok {
			routeSet = append(routeSet, rrh.Address)
		}
	}

	d.mu.Lock()
	d.id.FromTag = localTag
	d.from = sip.FromHeader{DisplayName: toCopy.DisplayName, Address: toCopy.Address, Params: toCopy.Params}
	d.to = sip.ToHeader{DisplayName: fromH.DisplayName, Address: fromH.Address, Params: fromH.Params}
	d.localTag = localTag
	d.remoteURI = remoteURI
	d.routeSet = routeSet
	d.initialReq = req
	d.mu.Unlock()
	d.setRemoteSeq(cseqH.SeqNo)
	d.localSeq.Store(rand.Uint32() >> 1)

	d.setPersistentState(DialogStateTrying, nil, req)
	return s, nil
}

func (s *ServerInviteDialog) ID() DialogID               { return s.core.ID() }
func (s *ServerInviteDialog) State() DialogStateKind      { return s.core.State() }
func (s *ServerInviteDialog) Events() <-chan DialogState { return s.core.Events() }

// Ringing sends a 180 Ringing, moving the dialog to Early.
func (s *ServerInviteDialog) Ringing() error {
	return s.respondProvisional(180, "Ringing")
}

// Progress sends a 183 Session Progress with an optional body (e.g. early SDP),
// moving the dialog to Early.
func (s *ServerInviteDialog) Progress(body []byte) error {
	d := s.core
	res := d.makeResponse(s.inviteReq, 183, "Session Progress", nil, body)
	if err := s.inviteTx.Respond(res); err != nil {
		return &ErrTransport{Err: err}
	}
	d.setPersistentState(DialogStateEarly, res, nil)
	return nil
}

func (s *ServerInviteDialog) respondProvisional(code int, reason string) error {
	d := s.core
	res := d.makeResponse(s.inviteReq, code, reason, nil, nil)
	if err := s.inviteTx.Respond(res); err != nil {
		return &ErrTransport{Err: err}
	}
	d.setPersistentState(DialogStateEarly, res, nil)
	return nil
}

// Accept sends a 200 OK (with the given body, e.g. SDP answer) and moves the dialog to
// WaitAck, waiting on the peer's ACK to reach Confirmed.
func (s *ServerInviteDialog) Accept(body []byte) error {
	d := s.core
	headers := []sip.Header{}
	if d.contact != nil {
		c := *d.contact
		headers = append(headers, &c)
	}
	if len(body) > 0 {
		ct := sip.ContentType("application/sdp")
		headers = append(headers, &ct)
	}
	res := d.makeResponse(s.inviteReq, 200, "OK", headers, body)
	if err := s.inviteTx.Respond(res); err != nil {
		return &ErrTransport{Err: err}
	}
	d.setPersistentState(DialogStateWaitAck, res, nil)
	return nil
}

// Reject sends a final non-2xx response and terminates the dialog with the reason
// matching the status code (486/600 -> UasBusy, 603 -> UasDecline, anything else ->
// UasOther).
func (s *ServerInviteDialog) Reject(code int, reason string) error {
	d := s.core
	if reason == "" {
		reason = "Rejected"
	}
	res := d.makeResponse(s.inviteReq, code, reason, nil, nil)
	if err := s.inviteTx.Respond(res); err != nil {
		return &ErrTransport{Err: err}
	}

	switch code {
	case 486, 600:
		d.setTerminated(TerminatedUasBusy, code)
	case 603:
		d.setTerminated(TerminatedUasDecline, code)
	default:
		d.setTerminated(TerminatedUasOther, code)
	}
	return nil
}

// OnAck must be called when the peer's ACK for the 2xx arrives, moving the dialog from
// WaitAck to Confirmed. Dialogs that never see an ACK are the caller's responsibility
// to time out (Timer H/I territory, owned by the transaction layer) and terminate as
// Timeout.
func (s *ServerInviteDialog) OnAck(ack *sip.Request) {
	s.core.setPersistentState(DialogStateConfirmed, nil, ack)
}

// OnTimeout reports that no ACK arrived within the transaction layer's timers.
func (s *ServerInviteDialog) OnTimeout() {
	s.core.setTerminated(TerminatedTimeout, 0)
}

// HandleMidDialogRequest processes an inbound BYE/INFO/UPDATE/OPTIONS/NOTIFY within an
// established dialog: enforces strict CSeq monotonicity (rejecting out-of-order or
// retransmitted requests with a 500), updates remote_seq, publishes the matching
// transient or terminal event, and replies 200 OK by default.
func (s *ServerInviteDialog) HandleMidDialogRequest(req *sip.Request, tx *sip.ServerTx) error {
	d := s.core
	cseqH, ok := req.CSeq()
	if !ok || cseqH == nil {
		res := d.makeResponse(req, 400, "Bad Request", nil, nil)
		return tx.Respond(res)
	}

	if !d.checkRemoteSeq(cseqH.SeqNo) {
		res := d.makeResponse(req, 500, "Server Internal Error", nil, nil)
		return tx.Respond(res)
	}

	switch req.Method {
	case sip.BYE:
		res := d.makeResponse(req, 200, "OK", nil, nil)
		if err := tx.Respond(res); err != nil {
			return err
		}
		d.setTerminated(TerminatedUasBye, 0)
		return nil
	case sip.OPTIONS:
		d.publishTransient(DialogStateOptions, req)
	case sip.NOTIFY:
		d.publishTransient(DialogStateNotify, req)
	case sip.INFO:
		d.publishTransient(DialogStateInfo, req)
	case sip.UPDATE:
		d.publishTransient(DialogStateUpdated, req)
	default:
		d.publishTransient(DialogStateUpdated, req)
	}

	res := d.makeResponse(req, 200, "OK", nil, nil)
	return tx.Respond(res)
}
