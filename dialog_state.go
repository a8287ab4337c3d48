package sipgo

import (
	"github.com/telecore/sipdialog/sip"
)

// DialogStateKind enumerates the persistent dialog states plus the transient
// mid-dialog events that ride the same state channel without overwriting the
// persistent state (RFC 3261 §12, and the distilled spec's dialog state machine).
type DialogStateKind int

const (
	DialogStateCalling DialogStateKind = iota
	DialogStateTrying
	DialogStateEarly
	DialogStateWaitAck
	DialogStateConfirmed
	DialogStateTerminated

	// Transient: published on the state channel but never overwrite the dialog's
	// persistent state field.
	DialogStateUpdated
	DialogStateNotify
	DialogStateInfo
	DialogStateOptions
)

func (k DialogStateKind) String() string {
	switch k {
	case DialogStateCalling:
		return "Calling"
	case DialogStateTrying:
		return "Trying"
	case DialogStateEarly:
		return "Early"
	case DialogStateWaitAck:
		return "WaitAck"
	case DialogStateConfirmed:
		return "Confirmed"
	case DialogStateTerminated:
		return "Terminated"
	case DialogStateUpdated:
		return "Updated"
	case DialogStateNotify:
		return "Notify"
	case DialogStateInfo:
		return "Info"
	case DialogStateOptions:
		return "Options"
	default:
		return "Unknown"
	}
}

// Persistent reports whether this kind overwrites DialogCore.state, as opposed to
// only being published on the state channel (Updated/Notify/Info/Options).
func (k DialogStateKind) Persistent() bool {
	return k <= DialogStateTerminated
}

// TerminatedReason enumerates why a dialog reached DialogStateTerminated.
type TerminatedReason int

const (
	TerminatedUnspecified TerminatedReason = iota
	TerminatedTimeout
	TerminatedUacCancel
	TerminatedUacBye
	TerminatedUasBye
	TerminatedUacBusy
	TerminatedUasBusy
	TerminatedUasDecline
	TerminatedProxyError
	TerminatedProxyAuthRequired
	TerminatedUacOther
	TerminatedUasOther
)

func (r TerminatedReason) String() string {
	switch r {
	case TerminatedTimeout:
		return "Timeout"
	case TerminatedUacCancel:
		return "UacCancel"
	case TerminatedUacBye:
		return "UacBye"
	case TerminatedUasBye:
		return "UasBye"
	case TerminatedUacBusy:
		return "UacBusy"
	case TerminatedUasBusy:
		return "UasBusy"
	case TerminatedUasDecline:
		return "UasDecline"
	case TerminatedProxyError:
		return "ProxyError"
	case TerminatedProxyAuthRequired:
		return "ProxyAuthRequired"
	case TerminatedUacOther:
		return "UacOther"
	case TerminatedUasOther:
		return "UasOther"
	default:
		return "Unspecified"
	}
}

// TerminatedInfo carries the details of a Terminated state: the reason, and for
// ProxyError/UacOther/UasOther, the SIP status code that triggered it.
type TerminatedInfo struct {
	Reason     TerminatedReason
	StatusCode int
}

// DialogState is one event on a dialog's state channel. Exactly one of Response,
// Request, or Terminated is meaningful, depending on Kind.
type DialogState struct {
	Kind       DialogStateKind
	Response   *sip.Response
	Request    *sip.Request
	Terminated TerminatedInfo
}

// publishState sends state on ch without blocking forever: per the spec's "publication
// is best-effort, a closed channel is not an error" rule, a full or closed channel
// simply drops the event rather than panicking or blocking the dialog's own
// processing loop.
func publishState(ch chan<- DialogState, state DialogState) {
	if ch == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	select {
	case ch <- state:
	default:
	}
}
