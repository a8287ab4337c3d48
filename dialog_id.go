package sipgo

import (
	"github.com/telecore/sipdialog/sip"
)

// DialogID identifies a dialog by the Call-ID/From-tag/To-tag triple (RFC 3261 §12).
// ToTag is empty until the peer's tag has been learned; a dialog is registered first
// under its provisional id (ToTag == "") and rekeyed once a response or mid-dialog
// request carries one.
type DialogID struct {
	CallID  string
	FromTag string
	ToTag   string
}

// String renders the triple the way the registry keys on it.
func (id DialogID) String() string {
	return id.CallID + "__" + id.FromTag + "__" + id.ToTag
}

// WithToTag returns a copy of id with ToTag set, used when rekeying the registry once
// the peer's tag is learned.
func (id DialogID) WithToTag(tag string) DialogID {
	id.ToTag = tag
	return id
}

// dialogIDFromMessage pulls the Call-ID/From-tag/To-tag triple out of any Message.
// Unlike sip.DialogIDFromResponse/DialogIDFromRequestUAS/UAC, missing headers or tags
// never produce an error: a missing tag is reported as "", matching the distilled
// spec's "from_request/from_response: missing tags -> empty string not error" rule.
func dialogIDFromMessage(msg sip.Message, fromIsLocal bool) DialogID {
	var id DialogID

	if cid, ok := msg.CallID(); ok && cid != nil {
		id.CallID = cid.String()
	}

	from, _ := msg.From()
	to, _ := msg.To()

	var fromTag, toTag string
	if from != nil {
		fromTag, _ = from.Params.Get("tag")
	}
	if to != nil {
		toTag, _ = to.Params.Get("tag")
	}

	if fromIsLocal {
		id.FromTag = fromTag
		id.ToTag = toTag
	} else {
		id.FromTag = toTag
		id.ToTag = fromTag
	}

	return id
}

// DialogIDFromRequestUAC builds the id a dialog-initiating UAC sees on its own
// outgoing request: From carries the local tag, To carries the (not yet learned)
// remote tag.
func DialogIDFromRequestUAC(req *sip.Request) DialogID {
	return dialogIDFromMessage(req, true)
}

// DialogIDFromRequestUAS builds the id a UAS sees on an inbound request: From carries
// the remote tag, To carries the local tag.
func DialogIDFromRequestUAS(req *sip.Request) DialogID {
	return dialogIDFromMessage(req, false)
}

// DialogIDFromResponse builds the id a UAC sees on an inbound response to its own
// request: From carries the local tag, To carries the remote tag.
func DialogIDFromResponse(res *sip.Response) DialogID {
	return dialogIDFromMessage(res, true)
}
