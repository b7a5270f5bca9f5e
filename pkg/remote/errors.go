package remote

import "github.com/pkg/errors"

// ErrNotConfigured means no base URL or API key is set for the remote engine.
// Not retriable without user action; callers surface it as "integration not
// connected" rather than a generic failure.
var ErrNotConfigured = errors.New("remote engine integration not configured")

// ErrRemoteUnavailable means the remote engine answered with a non-2xx status
// or the request failed at the transport level. Retriable.
var ErrRemoteUnavailable = errors.New("remote engine unavailable")

// ErrNotFound means the remote engine does not know the requested workflow or
// execution. Not retriable.
var ErrNotFound = errors.New("not found on remote engine")
