package slack

import (
	"errors"
	"fmt"
	"net/http"

	slackapi "github.com/slack-go/slack"
)

// Request signing headers.
const (
	HeaderSignature = "X-Slack-Signature"
	HeaderTimestamp = "X-Slack-Request-Timestamp"
	HeaderRetryNum  = "X-Slack-Retry-Num"
)

// ErrBadSignature wraps every verification failure.
var ErrBadSignature = errors.New("request signature rejected")

// Verifier checks the signature Slack puts on every request.
type Verifier struct {
	secret string
}

func NewVerifier(signingSecret string) *Verifier {
	return &Verifier{secret: signingSecret}
}

// Verify checks body against the signature headers in h. Missing headers,
// stale timestamps and mismatches all wrap ErrBadSignature.
func (v *Verifier) Verify(h http.Header, body []byte) error {
	sv, err := slackapi.NewSecretsVerifier(h, v.secret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if _, err := sv.Write(body); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if err := sv.Ensure(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}
