package models

import "errors"

// Pipeline error taxonomy. Handlers match these with errors.Is and map
// them to HTTP statuses; the pipeline itself never crashes on them.
var (
	// ErrInvalidGeometry marks a malformed zone definition. Zones are
	// rejected at registration, never at query time.
	ErrInvalidGeometry = errors.New("invalid zone geometry")

	// ErrStaleFix marks an out-of-order fix timestamp. The fix is
	// dropped and logged with no state change.
	ErrStaleFix = errors.New("stale location fix")

	// ErrMissingTourist marks a fix referencing an unknown or
	// deactivated tourist.
	ErrMissingTourist = errors.New("unknown tourist")

	// ErrIndexUnavailable means the zone index snapshot has not been
	// built yet; the fix should be retried with backoff, not dropped.
	ErrIndexUnavailable = errors.New("zone index unavailable")
)
