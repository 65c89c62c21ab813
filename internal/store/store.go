// Package store resolves per-channel project configuration from Postgres.
// Each messaging-platform channel maps to one GitLab project id and the
// credential used to query it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Postgres driver, registered for database/sql.
	_ "github.com/lib/pq"
)

// ErrNotFound is returned when no configuration exists for a team/channel.
var ErrNotFound = errors.New("project configuration not found")

// ProjectConfig is a resolved channel configuration: which project to query
// and with what credential.
type ProjectConfig struct {
	ProjectID string
	Token     string
}

// Resolver maps a team/channel pair to its project configuration.
type Resolver interface {
	Resolve(ctx context.Context, teamID, channelID string) (*ProjectConfig, error)
}

// ChannelConfig is a full configuration row as written by the configure flow.
type ChannelConfig struct {
	TeamID      string
	ChannelID   string
	ProjectName string
	ProjectID   string
	Token       string
}

// Store is the Postgres-backed configuration store.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres using a connection string and verifies the
// connection.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing database handle; used by tests.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Resolve looks up the project id and credential configured for a channel.
func (s *Store) Resolve(ctx context.Context, teamID, channelID string) (*ProjectConfig, error) {
	const query = `SELECT gitlab_project_id, gitlab_token FROM projects_config
		WHERE teams_team_id = $1 AND teams_channel_id = $2`

	var config ProjectConfig
	err := s.db.QueryRowContext(ctx, query, teamID, channelID).Scan(&config.ProjectID, &config.Token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project config: %w", err)
	}
	return &config, nil
}

// SaveIfAbsent stores a channel configuration unless the exact same mapping
// already exists. It reports whether a new row was written.
func (s *Store) SaveIfAbsent(ctx context.Context, config ChannelConfig) (bool, error) {
	const existsQuery = `SELECT COUNT(*) FROM projects_config
		WHERE teams_team_id = $1 AND teams_channel_id = $2 AND gitlab_project_id = $3`

	var count int
	err := s.db.QueryRowContext(ctx, existsQuery, config.TeamID, config.ChannelID, config.ProjectID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check existing config: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	const insertQuery = `INSERT INTO projects_config (
		teams_team_id, teams_channel_id, gitlab_project_name, gitlab_project_id, gitlab_token
	) VALUES ($1, $2, $3, $4, $5)`

	_, err = s.db.ExecContext(ctx, insertQuery,
		config.TeamID, config.ChannelID, config.ProjectName, config.ProjectID, config.Token)
	if err != nil {
		return false, fmt.Errorf("failed to save config: %w", err)
	}
	return true, nil
}
