// Package responses holds the bot's outbound message templates. Templates
// use {name} placeholders and can be overridden at runtime through the
// settings store under "response.<key>" keys.
package responses

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/barcrawlhq/crawlbot/internal/bot"
)

// Template keys.
const (
	Welcome           = "welcome"
	Help              = "help"
	SignupStart       = "signup_start"
	SignupAreaInvalid = "signup_area_invalid"
	SignupGroupType   = "signup_group_type"
	SignupTypeInvalid = "signup_group_type_invalid"
	SignupGender      = "signup_gender"
	SignupGenderBad   = "signup_gender_invalid"
	SignupAge         = "signup_age"
	SignupAgeInvalid  = "signup_age_invalid"
	SignupSuccess     = "signup_success"
	SignupTimeout     = "signup_timeout"
	AlreadyRegistered = "already_registered"
	RateLimit         = "rate_limit"
	Error             = "error"
	Goodbye           = "goodbye"
	GroupSearching    = "group_searching"
	GroupJoined       = "group_joined"
	GroupReady        = "group_ready"
	GroupConfirm      = "group_confirm"
	GroupConfirmed    = "group_confirmed"
	GroupCancelled    = "group_cancelled"
	GroupAlternative  = "group_alternative"
	CrawlFirstStop    = "crawl_first_stop"
	CrawlRules        = "crawl_rules"
	CrawlNextBar      = "next_bar"
	CrawlComplete     = "crawl_complete"
	CrawlMorningEnd   = "crawl_morning_end"
	NotEnoughVenues   = "not_enough_venues"
)

const overridePrefix = "response."

var defaults = map[string]string{
	Welcome: "Welcome to the Manchester Bar Crawl Bot! 🍺\n" +
		"Send 'beer crawl' to sign up for a crawl, or 'help' to see what I can do.",
	Help: "Here's what I can do:\n" +
		"• 'beer crawl' or 'join' - sign up for a crawl\n" +
		"• 'yes' - confirm your group when it's ready\n" +
		"• 'don't like this group' - look for another group\n" +
		"• 'help' - show this message",
	SignupStart:       "Great, let's get you signed up! Which area would you like to crawl?\n{options}",
	SignupAreaInvalid: "Sorry, I didn't catch that area. Please pick one of:\n{options}",
	SignupGroupType:   "Nice, {area} it is. What kind of group would you like?\n{options}",
	SignupTypeInvalid: "Please pick one of these group types:\n{options}",
	SignupGender:      "Almost there. What's your gender?\n{options}",
	SignupGenderBad:   "Please pick one of:\n{options}",
	SignupAge:         "Last question - what's your age range?\n{options}",
	SignupAgeInvalid:  "Please pick one of these age ranges:\n{options}",
	SignupSuccess: "You're all signed up! 🎉 Area: {area}, group: {group_type}.\n" +
		"I'll look for a group for you now.",
	SignupTimeout:     "Your signup expired, let's start again. Send 'beer crawl' when you're ready.",
	AlreadyRegistered: "You're already registered! I'll look for a group for you.",
	RateLimit:         "Whoa, slow down! 🍻 Give me a minute before sending more messages.",
	Error:             "Something went wrong on my end. Please try again in a moment.",
	Goodbye:           "Thanks for crawling with us! See you next time. 👋",
	GroupSearching:    "Looking for a crawl group in {area}... I'll message you as soon as I find one.",
	GroupJoined:       "You've joined a group in {area}! {count} of {capacity} spots filled, hang tight.",
	GroupReady:        "Your group in {area} is full! 🎉 Reply 'yes' to confirm and we'll kick off the crawl.",
	GroupConfirm:      "Reply 'yes' to confirm your spot, or 'find another group' to look elsewhere.",
	GroupConfirmed:    "You're confirmed! 🍻 Hang tight, the crawl details are on their way.",
	GroupCancelled:    "Your group has been cancelled. Send 'beer crawl' to sign up again.",
	GroupAlternative:  "No problem, I'll look for another group in {area}.",
	CrawlFirstStop: "The crawl is on! 🍺 First stop: {venue}, {address}.\n" +
		"You have about {minutes} minutes here before we move on.",
	CrawlRules: "House rules:\n" +
		"1. Drink responsibly and look out for each other.\n" +
		"2. Stay with your group between bars.\n" +
		"3. Respect the venues and their staff.\n" +
		"Have a great night!",
	CrawlNextBar:    "Time to move! 🚶 Next stop: {venue}, {address}. See you there!",
	CrawlComplete:   "That's the end of the crawl! 🎉 Hope you had a great night.",
	CrawlMorningEnd: "Morning! Last night's crawl is officially wrapped up. Send 'beer crawl' to join the next one.",
	NotEnoughVenues: "Not enough bars in {area} to run a crawl right now. I'll keep your group open and try again.",
}

// Catalog resolves template keys to rendered messages. Safe for concurrent
// use; Reload swaps the override layer atomically.
type Catalog struct {
	store bot.SettingsStore

	mu        sync.RWMutex
	overrides map[string]string
}

// NewCatalog constructs a Catalog backed by the settings store. A nil store
// means defaults only.
func NewCatalog(store bot.SettingsStore) *Catalog {
	return &Catalog{store: store, overrides: map[string]string{}}
}

// Reload pulls "response."-prefixed overrides from the settings store.
func (c *Catalog) Reload(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	values, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading response overrides: %w", err)
	}
	overrides := make(map[string]string)
	for k, v := range values {
		if key, ok := strings.CutPrefix(k, overridePrefix); ok {
			overrides[key] = v
		}
	}
	c.mu.Lock()
	c.overrides = overrides
	c.mu.Unlock()
	return nil
}

// Render resolves the template and substitutes {name} placeholders. Unknown
// keys fall back to the generic error template; unmatched placeholders are
// left in place.
func (c *Catalog) Render(key string, vars map[string]string) string {
	c.mu.RLock()
	tmpl, ok := c.overrides[key]
	c.mu.RUnlock()
	if !ok {
		if tmpl, ok = defaults[key]; !ok {
			tmpl = defaults[Error]
		}
	}
	for name, value := range vars {
		tmpl = strings.ReplaceAll(tmpl, "{"+name+"}", value)
	}
	return tmpl
}
