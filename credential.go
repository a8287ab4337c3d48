package sipgo

import (
	"fmt"

	"github.com/icholy/digest"

	"github.com/telecore/sipdialog/sip"
)

// Credential is the username/password (and optional realm hint) a dialog or
// registration authenticates with when challenged.
type Credential struct {
	Username string
	Password string
	Realm    string
}

// authenticateRequest builds a fresh copy of req carrying an Authorization (for
// WWW-Authenticate) or Proxy-Authorization (for Proxy-Authenticate) header computed
// from the challenge in res. The copy keeps req's CSeq; callers set the retry's CSeq
// themselves (incremented, or unchanged for CANCEL). This never mutates the original
// request or transaction, it always returns a new one, per the "authentication
// replay: construct new request/new transaction/send" design note.
func authenticateRequest(req *sip.Request, res *sip.Response, cred Credential) (*sip.Request, error) {
	var headerName, authHeaderName string
	switch res.StatusCode {
	case 401:
		headerName, authHeaderName = "WWW-Authenticate", "Authorization"
	case 407:
		headerName, authHeaderName = "Proxy-Authenticate", "Proxy-Authorization"
	default:
		return nil, fmt.Errorf("authenticateRequest: response status %d is not a challenge", res.StatusCode)
	}

	challengeHeader := res.GetHeader(headerName)
	if challengeHeader == nil {
		return nil, fmt.Errorf("authenticateRequest: response has no %s header", headerName)
	}

	chal, err := digest.ParseChallenge(challengeHeader.Value())
	if err != nil {
		return nil, fmt.Errorf("authenticateRequest: parsing challenge: %w", err)
	}

	creds, err := digest.Digest(chal, digest.Options{
		Method:   req.Method.String(),
		URI:      req.Recipient.String(),
		Username: cred.Username,
		Password: cred.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("authenticateRequest: computing digest: %w", err)
	}

	newReq := req.Clone()
	newReq.RemoveHeader(authHeaderName)
	newReq.AppendHeader(&sip.GenericHeader{HeaderName: authHeaderName, Contents: creds.String()})

	return newReq, nil
}

// extractChallengeRealm reads the realm off a 401/407 challenge, used by callers that
// want to confirm a supplied Credential.Realm matches the server before retrying.
func extractChallengeRealm(res *sip.Response) (string, bool) {
	for _, name := range []string{"WWW-Authenticate", "Proxy-Authenticate"} {
		if h := res.GetHeader(name); h != nil {
			if chal, err := digest.ParseChallenge(h.Value()); err == nil {
				return chal.Realm, true
			}
		}
	}
	return "", false
}
