package conversation

import "errors"

// ErrNotFound is returned when an operation requires an existing conversation
// and none exists for the session id. Appending an assistant message to a
// vanished conversation fails with this rather than resurrecting the record.
var ErrNotFound = errors.New("conversation not found")
