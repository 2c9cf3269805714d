package postgres

import "context"

const createCardsTableSQL = `
CREATE TABLE IF NOT EXISTS cards (
  id text PRIMARY KEY DEFAULT gen_random_uuid()::text,
  title text NOT NULL,
  description text NOT NULL DEFAULT '',
  priority text NOT NULL DEFAULT 'medium',
  status text NOT NULL DEFAULT 'todo',
  section_key text NOT NULL DEFAULT 'pending',
  position integer NOT NULL DEFAULT 0,
  due_at timestamptz,
  completed_at timestamptz,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const createMessagesTableSQL = `
CREATE TABLE IF NOT EXISTS messages (
  id text PRIMARY KEY,
  channel_id text NOT NULL DEFAULT '',
  conversation_id text NOT NULL DEFAULT '',
  sender_id text NOT NULL,
  sender_name text NOT NULL DEFAULT '',
  kind text NOT NULL,
  body text NOT NULL DEFAULT '',
  media jsonb,
  shared jsonb,
  read_by jsonb,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createMessagesLegacyTableSQL = `
CREATE TABLE IF NOT EXISTS messages_legacy (
  id text PRIMARY KEY,
  channel_id text NOT NULL DEFAULT '',
  conversation_id text NOT NULL DEFAULT '',
  sender_id text NOT NULL,
  sender_name text NOT NULL DEFAULT '',
  kind text NOT NULL,
  body text NOT NULL DEFAULT '',
  media jsonb,
  shared jsonb,
  read_by jsonb,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createChannelsTableSQL = `
CREATE TABLE IF NOT EXISTS channels (
  id text PRIMARY KEY,
  name text NOT NULL UNIQUE,
  description text NOT NULL DEFAULT '',
  icon text NOT NULL DEFAULT '',
  color text NOT NULL DEFAULT '',
  created_by text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createPresenceTableSQL = `
CREATE TABLE IF NOT EXISTS presence (
  user_id text PRIMARY KEY,
  display_name text NOT NULL DEFAULT '',
  status text NOT NULL DEFAULT 'offline',
  last_seen_at timestamptz NOT NULL DEFAULT now()
)`

const createCardsSectionIndexSQL = `
CREATE INDEX IF NOT EXISTS cards_section_position_idx
ON cards (section_key, position)`

const createMessagesChannelIndexSQL = `
CREATE INDEX IF NOT EXISTS messages_channel_created_idx
ON messages (channel_id, created_at)`

// EnsureSchema creates the board and chat tables used by the adapter.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		createCardsTableSQL,
		createMessagesTableSQL,
		createMessagesLegacyTableSQL,
		createChannelsTableSQL,
		createPresenceTableSQL,
		createCardsSectionIndexSQL,
		createMessagesChannelIndexSQL,
	}
	for _, stmt := range statements {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
