package portal

import (
	"errors"
	"fmt"
)

// ProtocolError is returned whenever the session with the portal breaks down: an authentication
// failure, an error or unrecognized page, or a failed HTTP round trip. The harvester treats
// these as session level failures and reconnects before retrying.
type ProtocolError struct {
	// Discriminator names the page that caused the failure (the lowercased page filename),
	// "transport" for network failures.
	Discriminator string
	Reason        string
	Err           error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("portal: %s (page: %s)", e.Reason, e.Discriminator)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether any error in err's chain is a *ProtocolError.
func IsProtocolError(err error) bool {
	var perr *ProtocolError
	return errors.As(err, &perr)
}

func transportError(reason string, err error) error {
	return &ProtocolError{Discriminator: "transport", Reason: reason, Err: err}
}

var errTotalMissing = errors.New("total count missing")
