package st3215

import (
	"errors"
	"fmt"
)

// ErrNoResponse means a servo did not answer within the read timeout.
// It is the normal result of probing an ID with nothing behind it and is
// always tolerated by callers.
var ErrNoResponse = errors.New("st3215: no response")

// ErrBadChecksum means a response arrived but failed checksum verification.
// Treated like silence: the read is discarded, the link stays up.
var ErrBadChecksum = errors.New("st3215: bad checksum")

// ErrWrongID means a well-formed reply arrived from a servo other than the
// one addressed. Treated like silence as well.
var ErrWrongID = errors.New("st3215: reply from wrong id")

// LinkError wraps a transport-level fault (the serial port itself failed).
// Callers tear the connection down when they see one.
type LinkError struct {
	Op  string
	Err error
}

func (e *LinkError) Error() string { return fmt.Sprintf("st3215: %s: %v", e.Op, e.Err) }
func (e *LinkError) Unwrap() error { return e.Err }

// IsLinkFailure reports whether err indicates the serial link is unusable,
// as opposed to a single servo being absent or a corrupt frame.
func IsLinkFailure(err error) bool {
	var le *LinkError
	return errors.As(err, &le)
}
