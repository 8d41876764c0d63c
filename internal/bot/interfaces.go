package bot

import (
	"context"
	"time"
)

// KV is the ephemeral TTL-keyed store behind dedup records, cooldown markers,
// rate counters, conversation state, and pending confirmations. Only
// single-key atomic primitives are required.
type KV interface {
	// Get returns the value and whether the key exists and has not expired.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes the value with a TTL. A non-positive TTL means no expiry.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// SetNX writes only if the key is absent, returning whether it wrote.
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	// Incr atomically increments the integer at key, applying the TTL only
	// when the key is created by this call. Returns the new count.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// ProfileStore persists completed user profiles.
type ProfileStore interface {
	// Create inserts a profile. Returns ErrConflict when the number is
	// already registered.
	Create(ctx context.Context, profile UserProfile) (UserProfile, error)
	// GetByNumber returns the profile for a WhatsApp number or ErrNotFound.
	GetByNumber(ctx context.Context, number string) (UserProfile, error)
}

// GroupStore persists crawl groups. JoinFirstFit is the one operation that
// requires true transactional atomicity: the capacity check and the member
// insert must be indivisible under concurrent joins.
type GroupStore interface {
	Get(ctx context.Context, id string) (Group, error)
	List(ctx context.Context, filter GroupFilter) ([]Group, error)
	// Create opens a new forming group with the admin as sole member.
	Create(ctx context.Context, group Group, admin Member) (Group, error)
	// JoinFirstFit joins the profile to the first forming group in the area
	// (and of the group type, when non-empty) with spare capacity. Returns
	// ErrNotFound when no candidate exists. Capacity is a hard ceiling:
	// concurrent calls never push a group past it.
	JoinFirstFit(ctx context.Context, area, groupType string, member Member) (JoinResult, error)
	// MembershipFor returns the forming or active group the profile belongs
	// to, or ErrNotFound.
	MembershipFor(ctx context.Context, profileID string) (Group, error)
	// Leave removes the profile from its forming group. A group left empty
	// is cancelled; a departing admin hands the role to the oldest member.
	// Returns ErrNotFound when the profile is in no forming group.
	Leave(ctx context.Context, profileID string, now time.Time) (Group, error)
	// BeginCrawl moves a forming group to active, assigning its immutable
	// venue sequence with the first stop open. Returns ErrInvalidTransition
	// unless the group is forming.
	BeginCrawl(ctx context.Context, id string, stops []CrawlStop, token string, eta time.Time, now time.Time) (Group, error)
	// AdvanceStop closes the current stop and opens the next, provided the
	// group is active and the token matches the pending advance. The second
	// return is false when the sequence is exhausted.
	AdvanceStop(ctx context.Context, id, token string, now time.Time) (Group, bool, error)
	// SetPendingAdvance records the single scheduled advance for the group.
	SetPendingAdvance(ctx context.Context, id, token string, eta time.Time) error
	// Complete moves the group to completed. Completing an already terminal
	// group is a no-op so reconciliation sweeps stay idempotent.
	Complete(ctx context.Context, id string, now time.Time) error
	// Cancel moves a non-terminal group to cancelled.
	Cancel(ctx context.Context, id string, now time.Time) error
}

// VenueStore persists venues.
type VenueStore interface {
	// ListByArea returns the active venues in an area.
	ListByArea(ctx context.Context, area string) ([]Venue, error)
	List(ctx context.Context) ([]Venue, error)
	Create(ctx context.Context, venue Venue) (Venue, error)
}

// SettingsStore persists the flat string-keyed runtime settings map.
type SettingsStore interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, settings map[string]string) error
}

// Sender delivers one outbound message through a provider channel.
type Sender interface {
	// Send delivers the message. Any provider-reported failure is returned
	// as an error; the caller decides on retry.
	Send(ctx context.Context, to, message string) error
	// Name identifies the channel for logs and metrics.
	Name() string
}

// Publisher emits group lifecycle events for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Executor is the asynchronous task boundary: durable, at-least-once
// execution with delayed scheduling. Handlers never block to wait; waiting is
// modeled by submitting a new deferred task.
type Executor interface {
	Submit(ctx context.Context, task Task) error
	SubmitAfter(ctx context.Context, task Task, delay time.Duration) error
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}

// Hasher computes digests for dedup fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
