package state

import "errors"

// ErrGenerating is returned by operations that cannot run during a generation.
var ErrGenerating = errors.New("state: generation in flight")
