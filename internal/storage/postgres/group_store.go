package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/barcrawlhq/crawlbot/internal/bot"
)

// GroupStore persists crawl groups, their members and their itineraries.
// Membership mutations run in serializable transactions with the group row
// locked, so two concurrent joins cannot both take the last seat.
type GroupStore struct {
	db DB
}

// NewGroupStore constructs a GroupStore over the given pool.
func NewGroupStore(db DB) *GroupStore {
	return &GroupStore{db: db}
}

const groupColumns = `id, area, group_type, status, capacity, current_stop,
	advance_token, advance_eta, started_at, ended_at, created_at, updated_at`

// Get loads a group with its members and stops.
func (s *GroupStore) Get(ctx context.Context, id string) (bot.Group, error) {
	return loadGroup(ctx, s.db, id)
}

// List returns groups matching the filter, oldest first.
func (s *GroupStore) List(ctx context.Context, filter bot.GroupFilter) ([]bot.Group, error) {
	statuses := make([]string, len(filter.Statuses))
	for i, st := range filter.Statuses {
		statuses[i] = string(st)
	}
	rows, err := s.db.Query(ctx,
		`SELECT id FROM groups
		 WHERE ($1 = '' OR area = $1)
		   AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		 ORDER BY created_at`,
		filter.Area, statuses,
	)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", translateErr(err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning group id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}

	out := make([]bot.Group, 0, len(ids))
	for _, id := range ids {
		g, err := loadGroup(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// Create inserts a group with the admin as its first member.
func (s *GroupStore) Create(ctx context.Context, group bot.Group, admin bot.Member) (bot.Group, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return bot.Group{}, fmt.Errorf("beginning create tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO groups (id, area, group_type, status, capacity, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		group.ID, group.Area, group.GroupType, string(group.Status),
		group.Capacity, group.CreatedAt, group.UpdatedAt,
	)
	if err != nil {
		return bot.Group{}, fmt.Errorf("inserting group %s: %w", group.ID, translateErr(err))
	}
	admin.IsAdmin = true
	if err := insertMember(ctx, tx, group.ID, admin); err != nil {
		return bot.Group{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return bot.Group{}, fmt.Errorf("committing create tx: %w", err)
	}
	group.Members = []bot.Member{admin}
	return group, nil
}

// JoinFirstFit locks the oldest forming group in the area with spare
// capacity and adds the member to it. bot.ErrNotFound means no group fits;
// bot.ErrConflict means the member already belongs to a live group.
func (s *GroupStore) JoinFirstFit(ctx context.Context, area, groupType string, member bot.Member) (bot.JoinResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return bot.JoinResult{}, fmt.Errorf("beginning join tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var alreadyIn bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM group_members m
		    JOIN groups g ON g.id = m.group_id
		    WHERE m.profile_id = $1 AND g.status IN ('forming', 'active'))`,
		member.ProfileID,
	).Scan(&alreadyIn)
	if err != nil {
		return bot.JoinResult{}, fmt.Errorf("checking membership: %w", err)
	}
	if alreadyIn {
		return bot.JoinResult{}, fmt.Errorf("member %s: %w", member.ProfileID, bot.ErrConflict)
	}

	var groupID string
	err = tx.QueryRow(ctx,
		`SELECT g.id FROM groups g
		 WHERE g.status = 'forming' AND g.area = $1
		   AND ($2 = '' OR g.group_type = $2)
		   AND (SELECT count(*) FROM group_members m WHERE m.group_id = g.id) < g.capacity
		 ORDER BY g.created_at
		 LIMIT 1
		 FOR UPDATE OF g`,
		area, groupType,
	).Scan(&groupID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bot.JoinResult{}, fmt.Errorf("no forming group in %s: %w", area, bot.ErrNotFound)
		}
		return bot.JoinResult{}, fmt.Errorf("finding forming group: %w", translateErr(err))
	}

	if err := insertMember(ctx, tx, groupID, member); err != nil {
		return bot.JoinResult{}, err
	}
	group, err := loadGroup(ctx, tx, groupID)
	if err != nil {
		return bot.JoinResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return bot.JoinResult{}, fmt.Errorf("committing join tx: %w", translateErr(err))
	}
	return bot.JoinResult{Group: group, Ready: group.Full()}, nil
}

// MembershipFor returns the live group containing the profile.
func (s *GroupStore) MembershipFor(ctx context.Context, profileID string) (bot.Group, error) {
	var groupID string
	err := s.db.QueryRow(ctx,
		`SELECT g.id FROM groups g
		 JOIN group_members m ON m.group_id = g.id
		 WHERE m.profile_id = $1 AND g.status IN ('forming', 'active')
		 ORDER BY g.created_at
		 LIMIT 1`,
		profileID,
	).Scan(&groupID)
	if err != nil {
		return bot.Group{}, fmt.Errorf("loading membership %s: %w", profileID, translateErr(err))
	}
	return loadGroup(ctx, s.db, groupID)
}

// Leave removes the profile from its forming group. The last member leaving
// cancels the group; a departing admin passes the role to the oldest
// remaining member.
func (s *GroupStore) Leave(ctx context.Context, profileID string, now time.Time) (bot.Group, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return bot.Group{}, fmt.Errorf("beginning leave tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var groupID string
	var wasAdmin bool
	err = tx.QueryRow(ctx,
		`SELECT g.id, m.is_admin FROM groups g
		 JOIN group_members m ON m.group_id = g.id
		 WHERE m.profile_id = $1 AND g.status = 'forming'
		 LIMIT 1
		 FOR UPDATE OF g`,
		profileID,
	).Scan(&groupID, &wasAdmin)
	if err != nil {
		return bot.Group{}, fmt.Errorf("finding forming group for %s: %w", profileID, translateErr(err))
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM group_members WHERE group_id = $1 AND profile_id = $2`,
		groupID, profileID,
	)
	if err != nil {
		return bot.Group{}, fmt.Errorf("removing member %s: %w", profileID, err)
	}

	var remaining int
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM group_members WHERE group_id = $1`, groupID,
	).Scan(&remaining)
	if err != nil {
		return bot.Group{}, fmt.Errorf("counting members of %s: %w", groupID, err)
	}

	switch {
	case remaining == 0:
		_, err = tx.Exec(ctx,
			`UPDATE groups SET status = 'cancelled', ended_at = $2, updated_at = $2 WHERE id = $1`,
			groupID, now,
		)
	case wasAdmin:
		_, err = tx.Exec(ctx,
			`UPDATE group_members SET is_admin = TRUE
			 WHERE group_id = $1 AND profile_id = (
			     SELECT profile_id FROM group_members
			     WHERE group_id = $1 ORDER BY joined_at LIMIT 1)`,
			groupID,
		)
		if err == nil {
			_, err = tx.Exec(ctx, `UPDATE groups SET updated_at = $2 WHERE id = $1`, groupID, now)
		}
	default:
		_, err = tx.Exec(ctx, `UPDATE groups SET updated_at = $2 WHERE id = $1`, groupID, now)
	}
	if err != nil {
		return bot.Group{}, fmt.Errorf("updating group %s after leave: %w", groupID, err)
	}

	group, err := loadGroup(ctx, tx, groupID)
	if err != nil {
		return bot.Group{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return bot.Group{}, fmt.Errorf("committing leave tx: %w", err)
	}
	return group, nil
}

// BeginCrawl activates a forming group with the given itinerary, opening the
// first stop.
func (s *GroupStore) BeginCrawl(ctx context.Context, id string, stops []bot.CrawlStop, token string, eta, now time.Time) (bot.Group, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return bot.Group{}, fmt.Errorf("beginning activate tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE groups
		 SET status = 'active', current_stop = 0, advance_token = $2,
		     advance_eta = $3, started_at = $4, updated_at = $4
		 WHERE id = $1 AND status = 'forming'`,
		id, token, eta, now,
	)
	if err != nil {
		return bot.Group{}, fmt.Errorf("activating group %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return bot.Group{}, transitionErr(ctx, tx, id, "forming")
	}

	for i, stop := range stops {
		started := nullableTime(time.Time{})
		if i == 0 {
			started = &now
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO group_stops (group_id, stop_order, venue_id, venue_name, venue_address, started_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			id, i, stop.Venue.ID, stop.Venue.Name, stop.Venue.Address, started,
		)
		if err != nil {
			return bot.Group{}, fmt.Errorf("inserting stop %d for group %s: %w", i, id, translateErr(err))
		}
	}

	group, err := loadGroup(ctx, tx, id)
	if err != nil {
		return bot.Group{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return bot.Group{}, fmt.Errorf("committing activate tx: %w", err)
	}
	return group, nil
}

// AdvanceStop closes the current stop and opens the next one. A stale token
// leaves the group untouched and reports moved=false. Closing the last stop
// also reports moved=false; the caller ends the session.
func (s *GroupStore) AdvanceStop(ctx context.Context, id, token string, now time.Time) (bot.Group, bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return bot.Group{}, false, fmt.Errorf("beginning advance tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status, currentToken string
	var currentStop, stopCount int
	err = tx.QueryRow(ctx,
		`SELECT status, advance_token, current_stop,
		        (SELECT count(*) FROM group_stops s WHERE s.group_id = groups.id)
		 FROM groups WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&status, &currentToken, &currentStop, &stopCount)
	if err != nil {
		return bot.Group{}, false, fmt.Errorf("locking group %s: %w", id, translateErr(err))
	}
	if status != string(bot.GroupActive) {
		return bot.Group{}, false, fmt.Errorf("group %s is %s: %w", id, status, bot.ErrInvalidTransition)
	}
	if currentToken != token {
		group, err := loadGroup(ctx, tx, id)
		if err != nil {
			return bot.Group{}, false, err
		}
		return group, false, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE group_stops SET ended_at = $3 WHERE group_id = $1 AND stop_order = $2`,
		id, currentStop, now,
	)
	if err != nil {
		return bot.Group{}, false, fmt.Errorf("closing stop %d: %w", currentStop, err)
	}

	moved := currentStop+1 < stopCount
	if moved {
		_, err = tx.Exec(ctx,
			`UPDATE group_stops SET started_at = $3 WHERE group_id = $1 AND stop_order = $2`,
			id, currentStop+1, now,
		)
		if err != nil {
			return bot.Group{}, false, fmt.Errorf("opening stop %d: %w", currentStop+1, err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE groups SET current_stop = $2, updated_at = $3 WHERE id = $1`,
			id, currentStop+1, now,
		)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE groups SET updated_at = $2 WHERE id = $1`,
			id, now,
		)
	}
	if err != nil {
		return bot.Group{}, false, fmt.Errorf("advancing group %s: %w", id, err)
	}

	group, err := loadGroup(ctx, tx, id)
	if err != nil {
		return bot.Group{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return bot.Group{}, false, fmt.Errorf("committing advance tx: %w", err)
	}
	return group, moved, nil
}

// SetPendingAdvance records the token and ETA of the next scheduled advance.
func (s *GroupStore) SetPendingAdvance(ctx context.Context, id, token string, eta time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE groups SET advance_token = $2, advance_eta = $3 WHERE id = $1`,
		id, token, eta,
	)
	if err != nil {
		return fmt.Errorf("setting pending advance for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group %s: %w", id, bot.ErrNotFound)
	}
	return nil
}

// Complete marks the group completed. Already-terminal groups are left
// untouched so the daily sweep stays idempotent.
func (s *GroupStore) Complete(ctx context.Context, id string, now time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE groups SET status = 'completed', ended_at = $2, updated_at = $2
		 WHERE id = $1 AND status IN ('forming', 'active')`,
		id, now,
	)
	if err != nil {
		return fmt.Errorf("completing group %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		if err := s.db.QueryRow(ctx, `SELECT status FROM groups WHERE id = $1`, id).Scan(&status); err != nil {
			return fmt.Errorf("completing group %s: %w", id, translateErr(err))
		}
	}
	return nil
}

// Cancel marks the group cancelled. Terminal groups cannot be cancelled.
func (s *GroupStore) Cancel(ctx context.Context, id string, now time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE groups SET status = 'cancelled', ended_at = $2, updated_at = $2
		 WHERE id = $1 AND status IN ('forming', 'active')`,
		id, now,
	)
	if err != nil {
		return fmt.Errorf("cancelling group %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		if err := s.db.QueryRow(ctx, `SELECT status FROM groups WHERE id = $1`, id).Scan(&status); err != nil {
			return fmt.Errorf("cancelling group %s: %w", id, translateErr(err))
		}
		return fmt.Errorf("group %s is %s: %w", id, status, bot.ErrInvalidTransition)
	}
	return nil
}

func insertMember(ctx context.Context, q pgx.Tx, groupID string, member bot.Member) error {
	_, err := q.Exec(ctx,
		`INSERT INTO group_members (group_id, profile_id, number, is_admin, joined_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		groupID, member.ProfileID, member.Number, member.IsAdmin, member.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting member %s into %s: %w", member.ProfileID, groupID, translateErr(err))
	}
	return nil
}

func loadGroup(ctx context.Context, q querier, id string) (bot.Group, error) {
	var g bot.Group
	var status string
	var advanceETA, startedAt, endedAt *time.Time
	err := q.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM groups WHERE id = $1`, id,
	).Scan(&g.ID, &g.Area, &g.GroupType, &status, &g.Capacity, &g.CurrentStop,
		&g.AdvanceToken, &advanceETA, &startedAt, &endedAt, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return bot.Group{}, fmt.Errorf("loading group %s: %w", id, translateErr(err))
	}
	g.Status = bot.GroupStatus(status)
	g.AdvanceETA = derefTime(advanceETA)
	g.StartedAt = derefTime(startedAt)
	g.EndedAt = derefTime(endedAt)

	if g.Members, err = loadMembers(ctx, q, id); err != nil {
		return bot.Group{}, err
	}
	if g.Stops, err = loadStops(ctx, q, id); err != nil {
		return bot.Group{}, err
	}
	return g, nil
}

func loadMembers(ctx context.Context, q querier, groupID string) ([]bot.Member, error) {
	rows, err := q.Query(ctx,
		`SELECT profile_id, number, is_admin, joined_at
		 FROM group_members WHERE group_id = $1 ORDER BY joined_at`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading members of %s: %w", groupID, err)
	}
	defer rows.Close()

	var members []bot.Member
	for rows.Next() {
		var m bot.Member
		if err := rows.Scan(&m.ProfileID, &m.Number, &m.IsAdmin, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func loadStops(ctx context.Context, q querier, groupID string) ([]bot.CrawlStop, error) {
	rows, err := q.Query(ctx,
		`SELECT stop_order, venue_id, venue_name, venue_address, started_at, ended_at
		 FROM group_stops WHERE group_id = $1 ORDER BY stop_order`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading stops of %s: %w", groupID, err)
	}
	defer rows.Close()

	var stops []bot.CrawlStop
	for rows.Next() {
		var s bot.CrawlStop
		var started, ended *time.Time
		if err := rows.Scan(&s.Order, &s.Venue.ID, &s.Venue.Name, &s.Venue.Address, &started, &ended); err != nil {
			return nil, fmt.Errorf("scanning stop: %w", err)
		}
		s.StartedAt = derefTime(started)
		s.EndedAt = derefTime(ended)
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

func transitionErr(ctx context.Context, q querier, id, wanted string) error {
	var status string
	if err := q.QueryRow(ctx, `SELECT status FROM groups WHERE id = $1`, id).Scan(&status); err != nil {
		return fmt.Errorf("group %s: %w", id, translateErr(err))
	}
	return fmt.Errorf("group %s is %s, want %s: %w", id, status, wanted, bot.ErrInvalidTransition)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
