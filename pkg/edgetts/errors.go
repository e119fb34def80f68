package edgetts

import (
	"errors"
	"fmt"
)

// Error classes for the client. Concrete failures wrap one of these
// sentinels, so callers can classify with errors.Is.
var (
	// ErrInvalidArgument indicates malformed request parameters. Raised
	// before any network activity; retrying will not help.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrProtocol indicates the service sent something the client does not
	// recognize, or a frame was malformed. Fatal to the current connection.
	ErrProtocol = errors.New("protocol error")

	// ErrNoAudio is the protocol error raised when a turn completes without
	// a single binary audio frame. Usually means the request parameters are
	// wrong for the selected voice.
	ErrNoAudio = fmt.Errorf("%w: no audio was received, please verify that your parameters are correct", ErrProtocol)
)
