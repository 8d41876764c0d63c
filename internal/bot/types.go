package bot

import "time"

// MessageType classifies an inbound webhook message.
type MessageType string

// Supported inbound message types. Anything other than text is routed to the
// default response.
const (
	MessageTypeText MessageType = "text"
)

// InboundMessage is the canonical inbound record both webhook payload shapes
// normalize to. It is ephemeral and never persisted past processing.
type InboundMessage struct {
	From       string      `json:"from"`
	Text       string      `json:"text"`
	Type       MessageType `json:"type"`
	MessageID  string      `json:"message_id"`
	ReceivedAt time.Time   `json:"received_at"`
}

// Stage is one discrete step of the signup dialogue.
type Stage string

// Signup stages in dialogue order. Completed is terminal and consumed
// immediately by registration.
const (
	StageNew                 Stage = "new"
	StageCollectingArea      Stage = "collecting_area"
	StageCollectingGroupType Stage = "collecting_group_type"
	StageCollectingGender    Stage = "collecting_gender"
	StageCollectingAge       Stage = "collecting_age"
	StageCompleted           Stage = "completed"
)

// StateTimeout is the absolute lifetime of a conversation state, measured
// from CreatedAt. Partial answers are discarded on expiry.
const StateTimeout = 30 * time.Minute

// ConversationState is the per-user signup record. Exactly one non-expired
// instance exists per user; it is owned exclusively by the signup engine.
type ConversationState struct {
	SenderID  string            `json:"sender_id"`
	Stage     Stage             `json:"stage"`
	Fields    map[string]string `json:"fields"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ExpiresAt returns the absolute deadline of the state.
func (s ConversationState) ExpiresAt() time.Time {
	return s.CreatedAt.Add(StateTimeout)
}

// Expired reports whether the state has passed its absolute deadline.
func (s ConversationState) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt())
}

// Profile field keys collected during signup.
const (
	FieldArea      = "preferred_area"
	FieldGroupType = "preferred_group_type"
	FieldGender    = "gender"
	FieldAgeRange  = "age_range"
)

// UserProfile is the persisted result of a completed signup, uniquely keyed
// by WhatsApp number.
type UserProfile struct {
	ID        string    `json:"id"`
	Number    string    `json:"whatsapp_number"`
	Area      string    `json:"preferred_area"`
	GroupType string    `json:"preferred_group_type"`
	Gender    string    `json:"gender"`
	AgeRange  string    `json:"age_range"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GroupStatus is the lifecycle state of a crawl group. Transitions are
// monotonic: forming -> active -> completed, with cancelled reachable from
// any non-terminal state.
type GroupStatus string

// Group lifecycle states.
const (
	GroupForming   GroupStatus = "forming"
	GroupActive    GroupStatus = "active"
	GroupCompleted GroupStatus = "completed"
	GroupCancelled GroupStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s GroupStatus) Terminal() bool {
	return s == GroupCompleted || s == GroupCancelled
}

// Member records one profile's membership in a group.
type Member struct {
	ProfileID string    `json:"profile_id"`
	Number    string    `json:"whatsapp_number"`
	IsAdmin   bool      `json:"is_admin"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Venue is a bar that can be scheduled into a crawl.
type Venue struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Area      string    `json:"area"`
	Latitude  float64   `json:"latitude,omitempty"`
	Longitude float64   `json:"longitude,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// CrawlStop is one position in a group's venue sequence. The sequence is
// assigned at activation and immutable afterwards.
type CrawlStop struct {
	Venue     Venue     `json:"venue"`
	Order     int       `json:"order"`
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

// Group is a crawl group record. The invariant len(Members) <= Capacity holds
// at every observation point; joins go through GroupStore.JoinFirstFit.
type Group struct {
	ID          string      `json:"id"`
	Area        string      `json:"area"`
	GroupType   string      `json:"group_type"`
	Status      GroupStatus `json:"status"`
	Capacity    int         `json:"capacity"`
	Members     []Member    `json:"members"`
	Stops       []CrawlStop `json:"stops,omitempty"`
	CurrentStop int         `json:"current_stop"`
	// AdvanceToken identifies the single pending deferred advance for the
	// group; a firing advance carrying a stale token must no-op.
	AdvanceToken string    `json:"advance_token,omitempty"`
	AdvanceETA   time.Time `json:"advance_eta,omitzero"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	EndedAt      time.Time `json:"ended_at,omitzero"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Full reports whether the group has reached capacity.
func (g Group) Full() bool {
	return len(g.Members) >= g.Capacity
}

// HasMember reports whether the profile already belongs to the group.
func (g Group) HasMember(profileID string) bool {
	for _, m := range g.Members {
		if m.ProfileID == profileID {
			return true
		}
	}
	return false
}

// JoinResult reports the outcome of a find-group request.
type JoinResult struct {
	Group Group
	// Created is true when no forming group matched and a new one was opened
	// with the requester as admin.
	Created bool
	// Ready is true when the group reached capacity with this join. Activation
	// still requires an explicit confirmation.
	Ready bool
}

// GroupFilter narrows GroupStore listings. Zero values match everything.
type GroupFilter struct {
	Area     string
	Statuses []GroupStatus
}

// EventType labels a published group lifecycle event.
type EventType string

// Group lifecycle events emitted to the publisher.
const (
	EventGroupFormed    EventType = "group.formed"
	EventGroupActivated EventType = "group.activated"
	EventGroupAdvanced  EventType = "group.advanced"
	EventGroupCompleted EventType = "group.completed"
	EventGroupCancelled EventType = "group.cancelled"
)

// Event is a group lifecycle notification for downstream consumers.
type Event struct {
	Type    EventType `json:"type"`
	GroupID string    `json:"group_id"`
	Area    string    `json:"area,omitempty"`
	At      time.Time `json:"at"`
	Detail  string    `json:"detail,omitempty"`
}
