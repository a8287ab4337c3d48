package sipgo

import (
	"errors"
	"fmt"

	"github.com/telecore/sipdialog/sip"
)

var (
	// ErrDialogDoesNotExist is returned by DialogLayer lookups for an unknown id.
	ErrDialogDoesNotExist = errors.New("sipdialog: dialog does not exist")
	// ErrDialogOutsideDialog is returned when an operation is attempted on a dialog
	// whose state does not permit it (e.g. bye() before Confirmed).
	ErrDialogOutsideDialog = errors.New("sipdialog: operation not valid in current dialog state")
	// ErrDialogTerminated is returned when an operation targets an already-terminated
	// dialog.
	ErrDialogTerminated = errors.New("sipdialog: dialog is terminated")
	// ErrAuthFailed is returned when a dialog request is challenged again after its
	// authenticated retry (only one retry per challenge is permitted), and when a
	// digest response cannot be computed from a challenge.
	ErrAuthFailed = errors.New("sipdialog: authentication failed")
	// ErrTransactionTimeout surfaces a transaction layer timeout (Timer B/F) to the
	// dialog's caller and state channel as Terminated(Timeout).
	ErrTransactionTimeout = errors.New("sipdialog: transaction timed out")
	// ErrParse wraps a message-parsing failure.
	ErrParse = errors.New("sipdialog: parse error")
	// ErrDNSResolution wraps a DNS resolution failure during transport.lookup.
	ErrDNSResolution = errors.New("sipdialog: dns resolution error")
)

// ErrUnexpectedResponse carries the response that caused a dialog operation to fail,
// e.g. a final non-2xx response to an INVITE that isn't a recognized rejection code.
type ErrUnexpectedResponse struct {
	Res *sip.Response
}

func (e *ErrUnexpectedResponse) Error() string {
	if e.Res == nil {
		return "sipdialog: unexpected empty response"
	}
	return fmt.Sprintf("sipdialog: unexpected response %d %s", e.Res.StatusCode, e.Res.Reason)
}

// ErrDialogProtocol reports a dialog-level protocol violation (out-of-order CSeq,
// second challenge after retry, mismatched Record-Route echo) tied to a specific
// dialog id.
type ErrDialogProtocol struct {
	ID  DialogID
	Msg string
}

func (e *ErrDialogProtocol) Error() string {
	return fmt.Sprintf("sipdialog: dialog %s: %s", e.ID, e.Msg)
}

// ErrTransport wraps a transport-layer failure (connection refused, write failed)
// with the destination address it occurred against.
type ErrTransport struct {
	Addr string
	Err  error
}

func (e *ErrTransport) Error() string {
	return fmt.Sprintf("sipdialog: transport error to %s: %v", e.Addr, e.Err)
}

func (e *ErrTransport) Unwrap() error {
	return e.Err
}
