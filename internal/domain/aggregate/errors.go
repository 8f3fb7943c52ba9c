package aggregate

import "errors"

// ErrShapeMismatch is returned by Inflate when columns differ in length.
var ErrShapeMismatch = errors.New("aggregate shape mismatch")
