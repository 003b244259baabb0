package channels

import "errors"

// ErrUnknownAdapter is returned when Registry.Send targets an unregistered
// adapter type.
var ErrUnknownAdapter = errors.New("channels: no adapter registered for type")
