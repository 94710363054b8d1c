// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Casvt/Kapowarr-sub000/internal/database"
	"github.com/Casvt/Kapowarr-sub000/internal/domain"
)

// ExternalClientType distinguishes the supported external download programs.
type ExternalClientType string

const (
	ClientQBittorrent ExternalClientType = "qbittorrent"
	ClientSABnzbd     ExternalClientType = "sabnzbd"
)

// ExternalClientConfig is a configured torrent or usenet client.
type ExternalClientConfig struct {
	ID       int
	Type     ExternalClientType
	Title    string
	BaseURL  string
	Username string
	Password string
	APIToken string
}

type ExternalClientStore struct {
	db *database.DB
}

func NewExternalClientStore(db *database.DB) *ExternalClientStore {
	return &ExternalClientStore{db: db}
}

func (s *ExternalClientStore) Add(ctx context.Context, c *ExternalClientConfig) error {
	res, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO external_clients (client_type, title, base_url, username, password, api_token)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(c.Type), c.Title, c.BaseURL,
		nullableString(c.Username), nullableString(c.Password), nullableString(c.APIToken))
	if err != nil {
		return fmt.Errorf("add external client: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = int(id)
	return nil
}

func (s *ExternalClientStore) List(ctx context.Context) ([]*ExternalClientConfig, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, client_type, title, base_url, COALESCE(username, ''),
			COALESCE(password, ''), COALESCE(api_token, '')
		FROM external_clients ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ExternalClientConfig
	for rows.Next() {
		var c ExternalClientConfig
		var clientType string
		if err := rows.Scan(&c.ID, &clientType, &c.Title, &c.BaseURL,
			&c.Username, &c.Password, &c.APIToken); err != nil {
			return nil, err
		}
		c.Type = ExternalClientType(clientType)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// FirstOfType returns the first configured client of the given type, or nil.
func (s *ExternalClientStore) FirstOfType(ctx context.Context, t ExternalClientType) (*ExternalClientConfig, error) {
	clients, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range clients {
		if c.Type == t {
			return c, nil
		}
	}
	return nil, nil
}

func (s *ExternalClientStore) Delete(ctx context.Context, id int) error {
	_, err := s.db.Conn().ExecContext(ctx, "DELETE FROM external_clients WHERE id = ?", id)
	return err
}

// Credential is a stored service login consulted by the resolver and the
// download clients.
type Credential struct {
	ID       int
	Source   domain.SourceKind
	Username string
	Email    string
	Password string
	APIKey   string
}

type CredentialStore struct {
	db *database.DB
}

func NewCredentialStore(db *database.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) Add(ctx context.Context, c *Credential) error {
	res, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO credentials (source, username, email, password, api_key)
		VALUES (?, ?, ?, ?, ?)`,
		string(c.Source), nullableString(c.Username), nullableString(c.Email),
		nullableString(c.Password), nullableString(c.APIKey))
	if err != nil {
		return fmt.Errorf("add credential: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = int(id)
	return nil
}

// ForSource returns the first credential stored for a source, or nil.
func (s *CredentialStore) ForSource(ctx context.Context, source domain.SourceKind) (*Credential, error) {
	var c Credential
	var src string
	err := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, source, COALESCE(username, ''), COALESCE(email, ''),
			COALESCE(password, ''), COALESCE(api_key, '')
		FROM credentials WHERE source = ? ORDER BY id LIMIT 1`, string(source)).
		Scan(&c.ID, &src, &c.Username, &c.Email, &c.Password, &c.APIKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Source = domain.SourceKind(src)
	return &c, nil
}

func (s *CredentialStore) Delete(ctx context.Context, id int) error {
	_, err := s.db.Conn().ExecContext(ctx, "DELETE FROM credentials WHERE id = ?", id)
	return err
}

// TaskIntervalStore keeps the bookkeeping rows consumed by the periodic task
// runner that lives outside this core.
type TaskIntervalStore struct {
	db *database.DB
}

func NewTaskIntervalStore(db *database.DB) *TaskIntervalStore {
	return &TaskIntervalStore{db: db}
}

func (s *TaskIntervalStore) Set(ctx context.Context, taskName string, intervalSeconds int, nextRun int64) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO task_intervals (task_name, interval_seconds, next_run)
		VALUES (?, ?, ?)
		ON CONFLICT (task_name) DO UPDATE SET interval_seconds = excluded.interval_seconds,
			next_run = excluded.next_run`,
		taskName, intervalSeconds, nextRun)
	return err
}

func (s *TaskIntervalStore) Get(ctx context.Context, taskName string) (intervalSeconds int, nextRun int64, err error) {
	err = s.db.Conn().QueryRowContext(ctx,
		"SELECT interval_seconds, next_run FROM task_intervals WHERE task_name = ?",
		taskName).Scan(&intervalSeconds, &nextRun)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	return intervalSeconds, nextRun, err
}

// defaultTaskIntervals are the periodic tasks every installation runs.
var defaultTaskIntervals = map[string]int{
	"update_all": 3600,
	"search_all": 86400,
}

// EnsureDefaults seeds the default task rows, keeping any existing ones.
func (s *TaskIntervalStore) EnsureDefaults(ctx context.Context) error {
	now := time.Now().Unix()
	for name, interval := range defaultTaskIntervals {
		_, err := s.db.Conn().ExecContext(ctx, `
			INSERT INTO task_intervals (task_name, interval_seconds, next_run)
			VALUES (?, ?, ?)
			ON CONFLICT (task_name) DO NOTHING`,
			name, interval, now+int64(interval))
		if err != nil {
			return fmt.Errorf("seed task %q: %w", name, err)
		}
	}
	return nil
}
