// Package store persists finalized events, their ticket types, and
// RSVPs in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an event id does not exist.
var ErrNotFound = errors.New("event not found")

// Event is a finalized, persisted event.
type Event struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Location    string       `json:"location,omitempty"`
	Date        string       `json:"date,omitempty"` // YYYY-MM-DD
	Time        string       `json:"time,omitempty"`
	EndTime     string       `json:"end_time,omitempty"`
	Cost        float64      `json:"cost"`
	MaxCapacity int          `json:"max_capacity,omitempty"`
	MinAge      int          `json:"min_age,omitempty"`
	MaxAge      int          `json:"max_age,omitempty"`
	Category    string       `json:"category,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	TicketTypes []TicketType `json:"ticket_types,omitempty"`
}

// TicketType is a priced admission tier on an event.
type TicketType struct {
	ID       string  `json:"id"`
	EventID  string  `json:"event_id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity,omitempty"`
}

// RSVP records one attendee response to an event.
type RSVP struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Status    string    `json:"status"` // accepted | declined | tentative
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows a Query. Zero values are ignored.
type Filter struct {
	Category string
	Location string // substring match
	DateFrom string // YYYY-MM-DD inclusive
	DateTo   string // YYYY-MM-DD inclusive
	Limit    int
}

// Store is a SQLite-backed event store.
type Store struct {
	db *sql.DB
}

// New wraps an open database and creates the schema if needed.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		location TEXT,
		date TEXT,
		time TEXT,
		end_time TEXT,
		cost REAL DEFAULT 0,
		max_capacity INTEGER DEFAULT 0,
		min_age INTEGER DEFAULT 0,
		max_age INTEGER DEFAULT 0,
		category TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_date ON events(date);
	CREATE INDEX IF NOT EXISTS idx_events_category ON events(category);

	CREATE TABLE IF NOT EXISTS ticket_types (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		name TEXT NOT NULL,
		price REAL NOT NULL,
		quantity INTEGER DEFAULT 0,
		FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_ticket_types_event ON ticket_types(event_id);

	CREATE TABLE IF NOT EXISTS rsvps (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		email TEXT NOT NULL,
		name TEXT,
		status TEXT NOT NULL,
		source TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (event_id, email),
		FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_rsvps_event ON rsvps(event_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create persists a new event and returns it with its assigned id.
func (s *Store) Create(ev Event) (*Event, error) {
	if strings.TrimSpace(ev.Title) == "" {
		return nil, errors.New("event title is required")
	}
	if ev.ID == "" {
		id, _ := uuid.NewV7()
		ev.ID = id.String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO events (id, title, description, location, date, time, end_time,
		                    cost, max_capacity, min_age, max_age, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.Title, ev.Description, ev.Location, ev.Date, ev.Time, ev.EndTime,
		ev.Cost, ev.MaxCapacity, ev.MinAge, ev.MaxAge, ev.Category, ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return &ev, nil
}

// GetByID returns an event with its ticket types, or ErrNotFound.
func (s *Store) GetByID(id string) (*Event, error) {
	row := s.db.QueryRow(`
		SELECT id, title, description, location, date, time, end_time,
		       cost, max_capacity, min_age, max_age, category, created_at
		FROM events WHERE id = ?
	`, id)

	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	ev.TicketTypes, err = s.ticketTypes(id)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// FindByTitle returns the most recently created event with the given
// title, matched case-insensitively. Used to match RSVP replies back
// to the invitation they answer.
func (s *Store) FindByTitle(title string) (*Event, error) {
	row := s.db.QueryRow(`
		SELECT id, title, description, location, date, time, end_time,
		       cost, max_capacity, min_age, max_age, category, created_at
		FROM events WHERE title = ? COLLATE NOCASE
		ORDER BY created_at DESC LIMIT 1
	`, strings.TrimSpace(title))

	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ev, nil
}

// Query returns events matching the filter, soonest first.
func (s *Store) Query(f Filter) ([]Event, error) {
	query := `
		SELECT id, title, description, location, date, time, end_time,
		       cost, max_capacity, min_age, max_age, category, created_at
		FROM events
	`
	var where []string
	var args []any

	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.Location != "" {
		where = append(where, "location LIKE ?")
		args = append(args, "%"+f.Location+"%")
	}
	if f.DateFrom != "" {
		where = append(where, "date >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		where = append(where, "date <= ?")
		args = append(args, f.DateTo)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY date ASC, created_at ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// AddTicketType attaches a ticket type to an existing event.
// Unknown event ids return ErrNotFound rather than a dangling row.
func (s *Store) AddTicketType(eventID, name string, price float64, quantity int) (*TicketType, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("ticket type name is required")
	}
	if price < 0 {
		return nil, errors.New("ticket price cannot be negative")
	}

	var exists int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE id = ?`, eventID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, eventID)
	}

	id, _ := uuid.NewV7()
	tt := &TicketType{
		ID:       id.String(),
		EventID:  eventID,
		Name:     name,
		Price:    price,
		Quantity: quantity,
	}
	_, err = s.db.Exec(`
		INSERT INTO ticket_types (id, event_id, name, price, quantity)
		VALUES (?, ?, ?, ?, ?)
	`, tt.ID, tt.EventID, tt.Name, tt.Price, tt.Quantity)
	if err != nil {
		return nil, fmt.Errorf("insert ticket type: %w", err)
	}
	return tt, nil
}

func (s *Store) ticketTypes(eventID string) ([]TicketType, error) {
	rows, err := s.db.Query(`
		SELECT id, event_id, name, price, quantity
		FROM ticket_types WHERE event_id = ? ORDER BY price ASC
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []TicketType
	for rows.Next() {
		var tt TicketType
		if err := rows.Scan(&tt.ID, &tt.EventID, &tt.Name, &tt.Price, &tt.Quantity); err != nil {
			return nil, err
		}
		types = append(types, tt)
	}
	return types, rows.Err()
}

// RecordRSVP upserts an attendee response keyed by (event, email).
// A later reply from the same address replaces the earlier one.
func (s *Store) RecordRSVP(eventID, email, name, status, source string) (*RSVP, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("rsvp email is required")
	}
	switch status {
	case "accepted", "declined", "tentative":
	default:
		return nil, fmt.Errorf("invalid rsvp status %q", status)
	}

	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE id = ?`, eventID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, eventID)
	}

	id, _ := uuid.NewV7()
	r := &RSVP{
		ID:        id.String(),
		EventID:   eventID,
		Email:     email,
		Name:      name,
		Status:    status,
		Source:    source,
		CreatedAt: time.Now(),
	}
	_, err := s.db.Exec(`
		INSERT INTO rsvps (id, event_id, email, name, status, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id, email) DO UPDATE SET
			name = excluded.name, status = excluded.status,
			source = excluded.source, created_at = excluded.created_at
	`, r.ID, r.EventID, r.Email, r.Name, r.Status, r.Source, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("record rsvp: %w", err)
	}
	return r, nil
}

// RSVPs returns responses for an event, newest first.
func (s *Store) RSVPs(eventID string) ([]RSVP, error) {
	rows, err := s.db.Query(`
		SELECT id, event_id, email, name, status, source, created_at
		FROM rsvps WHERE event_id = ? ORDER BY created_at DESC
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rsvps []RSVP
	for rows.Next() {
		var r RSVP
		var name, source sql.NullString
		if err := rows.Scan(&r.ID, &r.EventID, &r.Email, &name, &r.Status, &source, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Name = name.String
		r.Source = source.String
		rsvps = append(rsvps, r)
	}
	return rsvps, rows.Err()
}

// AttendeeCount returns the number of accepted responses.
func (s *Store) AttendeeCount(eventID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM rsvps WHERE event_id = ? AND status = 'accepted'
	`, eventID).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var ev Event
	var description, location, date, startTime, endTime, category sql.NullString
	err := row.Scan(&ev.ID, &ev.Title, &description, &location, &date, &startTime,
		&endTime, &ev.Cost, &ev.MaxCapacity, &ev.MinAge, &ev.MaxAge, &category, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	ev.Description = description.String
	ev.Location = location.String
	ev.Date = date.String
	ev.Time = startTime.String
	ev.EndTime = endTime.String
	ev.Category = category.String
	return &ev, nil
}
