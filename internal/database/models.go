package database

import "time"

// SpawnEvent records one attempt by the bot factory to create a bot.
// It is an audit trail only; nothing reads it back to decide which bots to build.
type SpawnEvent struct {
	ID        int64     `db:"id"         json:"id"`
	RunID     string    `db:"run_id"     json:"run_id"`
	Kind      string    `db:"kind"       json:"kind"`
	Nickname  string    `db:"nickname"   json:"nickname"`
	SlackUser string    `db:"slack_user" json:"slack_user,omitempty"`
	Outcome   string    `db:"outcome"    json:"outcome"`
	Error     string    `db:"error"      json:"error,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
