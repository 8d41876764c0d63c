package bot

import "errors"

// Sentinel errors shared across stores and engines. Callers branch with
// errors.Is rather than string matching.
var (
	// ErrNotFound signals a missing profile, group, or venue.
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a uniqueness violation, e.g. registering a profile
	// for a number that already has one.
	ErrConflict = errors.New("already exists")
	// ErrCapacity signals that a group filled up between read and join. The
	// matcher treats it as "retry matching", never as fatal.
	ErrCapacity = errors.New("group at capacity")
	// ErrInvalidTransition signals a group status change that would violate
	// the monotonic forming -> active -> completed/cancelled order.
	ErrInvalidTransition = errors.New("invalid group transition")
	// ErrNotEnoughVenues signals an activation attempt in an area with fewer
	// than the minimum number of venues.
	ErrNotEnoughVenues = errors.New("not enough venues in area")
)
