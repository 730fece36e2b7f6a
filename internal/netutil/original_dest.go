package netutil

import "errors"

// ErrUnsupported is returned by OriginalDestination on platforms that
// don't expose a redirect-destination socket option.
var ErrUnsupported = errors.New("netutil: original destination recovery not supported on this platform")
