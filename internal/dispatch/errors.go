package dispatch

import "errors"

var (
	errPolicyRejected = errors.New("dispatch: connection rejected by policy")
	errNoCandidates   = errors.New("dispatch: no upstream candidate survived filtering")
	errAllFailed      = errors.New("dispatch: every candidate upstream failed")
)
