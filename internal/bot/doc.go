// Package bot holds the domain model for the crawl bot: inbound messages,
// conversation state, user profiles, groups and venues, plus the small
// interfaces the engines are wired together with. Implementations live in
// their own packages (storage/memory, storage/postgres, sender, tasks).
package bot
