package sipgo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/telecore/sipdialog/sip"
)

// InviteOption configures an outgoing INVITE built by DialogLayer.MakeInviteRequest
// and DialogLayer.DoInvite, matching the distilled spec's configuration surface.
type InviteOption struct {
	Caller      sip.Uri
	Callee      sip.Uri
	ContentType string
	Offer       []byte
	Contact     *sip.ContactHeader
	Credential  *Credential
	Headers     []sip.Header
}

// ClientInviteDialog drives a dialog from the UAC side: Calling -> Trying -> Early ->
// Confirmed, with cancel()/bye()/hangup() available depending on current state.
type ClientInviteDialog struct {
	core *dialogCore

	inviteReq *sip.Request
	lastRes   *sip.Response
	acked     bool
}

func newClientInviteDialog(ep *Endpoint, id DialogID) *ClientInviteDialog {
	return &ClientInviteDialog{core: newDialogCore(ep, id)}
}

func (c *ClientInviteDialog) ID() DialogID             { return c.core.ID() }
func (c *ClientInviteDialog) State() DialogStateKind   { return c.core.State() }
func (c *ClientInviteDialog) Events() <-chan DialogState { return c.core.Events() }

// sendInvite assembles and sends the initial INVITE, driving the dialog through
// Calling -> Trying -> Early* -> Confirmed (or Terminated on rejection/timeout/error).
// On success it returns the 2xx response; the caller is then responsible for building
// and sending the ACK via Ack().
func (c *ClientInviteDialog) sendInvite(ctx context.Context, opt InviteOption) (*sip.Response, error) {
	d := c.core

	fromTag := uuid.NewString()
	d.mu.Lock()
	d.from = sip.FromHeader{Address: opt.Caller, Params: sip.NewParams()}
	d.from.Params = d.from.Params.Add("tag", fromTag)
	d.to = sip.ToHeader{Address: opt.Callee}
	d.remoteURI = opt.Callee
	d.contact = opt.Contact
	d.credential = opt.Credential
	d.id.FromTag = fromTag
	d.mu.Unlock()

	d.setPersistentState(DialogStateCalling, nil, nil)

	contentType := opt.ContentType
	if contentType == "" && len(opt.Offer) > 0 {
		contentType = "application/sdp"
	}

	headers := append([]sip.Header{}, opt.Headers...)
	if contentType != "" {
		ct := sip.ContentType(contentType)
		headers = append(headers, &ct)
	}

	seq := d.nextLocalSeq()
	req := d.makeRequest(sip.INVITE, seq, headers, opt.Offer)
	c.inviteReq = req
	d.mu.Lock()
	d.initialReq = req
	d.mu.Unlock()

	d.setPersistentState(DialogStateTrying, nil, nil)

	res, err := d.doRequest(ctx, req)
	if err != nil {
		d.setTerminated(TerminatedUacOther, 0)
		return nil, err
	}
	c.lastRes = res

	if toH, ok := res.To(); ok && toH != nil {
		if tag, has := toH.Params.Get("tag"); has {
			d.learnToTag(tag)
		}
	}

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		// UAC route set: Record-Route in REVERSE order (RFC 3261 §12.1.2), built only
		// now, on the 2xx - never mutated again afterwards.
		rrs := res.GetHeaders("Record-Route")
		routeSet := make([]sip.Uri, 0, len(rrs))
		for i := len(rrs) - 1; i >= 0; i-- {
			if rr, ok := rrs[i].(*sip.RecordRouteHeader); ok {
				routeSet = append(routeSet, rr.Address)
			}
		}
		d.mu.Lock()
		d.routeSet = routeSet
		d.mu.Unlock()

		if contactH, ok := res.Contact(); ok && contactH != nil {
			d.mu.Lock()
			d.remoteURI = contactH.Address
			d.mu.Unlock()
		}

		// RFC 3261 §13.2.2.4 considers the dialog established on receipt of the 2xx,
		// independent of when (or whether) the caller gets around to calling Ack().
		d.setPersistentState(DialogStateConfirmed, res, nil)
		return res, nil

	case res.StatusCode == 486 || res.StatusCode == 600:
		d.setTerminated(TerminatedUacBusy, res.StatusCode)
		return res, &ErrUnexpectedResponse{Res: res}

	case res.StatusCode == 603:
		d.setTerminated(TerminatedUasDecline, res.StatusCode)
		return res, &ErrUnexpectedResponse{Res: res}

	default:
		d.setTerminated(TerminatedUacOther, res.StatusCode)
		return res, &ErrUnexpectedResponse{Res: res}
	}
}

// Ack builds and sends the ACK for a 2xx response as an entirely new, end-to-end
// client transaction per RFC 3261 §13.2.2.4 - ACK for a 2xx is never handled inside
// the INVITE transaction itself. The dialog is already Confirmed by the time Ack is
// callable; a repeat call is a no-op.
func (c *ClientInviteDialog) Ack(ctx context.Context) error {
	d := c.core
	if d.State() != DialogStateConfirmed {
		return ErrDialogOutsideDialog
	}
	if c.acked {
		return nil
	}

	cseqH, _ := c.inviteReq.CSeq()
	seq := uint32(1)
	if cseqH != nil {
		seq = cseqH.SeqNo
	}

	ack := d.makeRequest(sip.ACK, seq, nil, nil)
	ack.Recipient = c.inviteReq.Recipient
	if c.lastRes != nil {
		if contactH, ok := c.lastRes.Contact(); ok && contactH != nil {
			ack.Recipient = contactH.Address
		}
	}

	if err := d.endpoint.TransportLayer().WriteMsg(ack); err != nil {
		return fmt.Errorf("%w", &ErrTransport{Addr: ack.Destination(), Err: err})
	}

	c.acked = true
	return nil
}

// Cancel sends a CANCEL for the still-pending INVITE. Only valid before the dialog
// reaches Confirmed (RFC 3261 §9: a CANCEL for an already-answered INVITE has no
// effect and must not be sent).
func (c *ClientInviteDialog) Cancel(ctx context.Context) error {
	d := c.core
	switch d.State() {
	case DialogStateCalling, DialogStateTrying, DialogStateEarly:
	default:
		return ErrDialogOutsideDialog
	}

	cancelReq := d.makeCancel(c.inviteReq)
	res, err := d.doRequest(ctx, cancelReq)
	if err != nil {
		return err
	}
	_ = res

	d.setTerminated(TerminatedUacCancel, 0)
	return nil
}

// Bye sends a BYE, ending a Confirmed dialog. Valid only once the dialog has reached
// Confirmed.
func (c *ClientInviteDialog) Bye(ctx context.Context) error {
	d := c.core
	if d.State() != DialogStateConfirmed {
		return ErrDialogOutsideDialog
	}

	seq := d.nextLocalSeq()
	req := d.makeRequest(sip.BYE, seq, nil, nil)

	res, err := d.doRequest(ctx, req)
	if err != nil {
		d.setTerminated(TerminatedUacOther, 0)
		return err
	}
	_ = res

	d.setTerminated(TerminatedUacBye, 0)
	return nil
}

// Hangup chooses CANCEL or BYE based on the dialog's current state: CANCEL before
// Confirmed, BYE once Confirmed, matching the spec's hangup() dispatch rule.
func (c *ClientInviteDialog) Hangup(ctx context.Context) error {
	if c.core.State() == DialogStateConfirmed {
		return c.Bye(ctx)
	}
	return c.Cancel(ctx)
}
