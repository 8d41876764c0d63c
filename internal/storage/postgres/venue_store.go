package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/barcrawlhq/crawlbot/internal/bot"
)

// VenueStore persists venues.
type VenueStore struct {
	db DB
}

// NewVenueStore constructs a VenueStore over the given pool.
func NewVenueStore(db DB) *VenueStore {
	return &VenueStore{db: db}
}

// Create inserts a venue.
func (s *VenueStore) Create(ctx context.Context, venue bot.Venue) (bot.Venue, error) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO venues (id, name, address, area, latitude, longitude, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		venue.ID, venue.Name, venue.Address, venue.Area,
		venue.Latitude, venue.Longitude, venue.Active, venue.CreatedAt,
	)
	if err != nil {
		return bot.Venue{}, fmt.Errorf("inserting venue %s: %w", venue.Name, translateErr(err))
	}
	return venue, nil
}

// ListByArea returns active venues in the area.
func (s *VenueStore) ListByArea(ctx context.Context, area string) ([]bot.Venue, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, address, area, latitude, longitude, active, created_at
		 FROM venues WHERE area = $1 AND active ORDER BY created_at`,
		area,
	)
	if err != nil {
		return nil, fmt.Errorf("listing venues in %s: %w", area, err)
	}
	return scanVenues(rows)
}

// List returns all venues.
func (s *VenueStore) List(ctx context.Context) ([]bot.Venue, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, address, area, latitude, longitude, active, created_at
		 FROM venues ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing venues: %w", err)
	}
	return scanVenues(rows)
}

func scanVenues(rows pgx.Rows) ([]bot.Venue, error) {
	defer rows.Close()
	var venues []bot.Venue
	for rows.Next() {
		var v bot.Venue
		if err := rows.Scan(&v.ID, &v.Name, &v.Address, &v.Area, &v.Latitude, &v.Longitude, &v.Active, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning venue: %w", err)
		}
		venues = append(venues, v)
	}
	return venues, rows.Err()
}
