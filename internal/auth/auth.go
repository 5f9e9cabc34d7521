// Package auth adapts a sqlite-backed credential store, with bcrypt-hashed
// secrets via pkg/hash, into the broker's hook.Hook interface.
package auth

import (
	"database/sql"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/pyr33x/goqttd/internal/er"
	"github.com/pyr33x/goqttd/internal/logger"
	"github.com/pyr33x/goqttd/internal/packet"
	"github.com/pyr33x/goqttd/pkg/hash"
)

// Store authenticates username/password pairs against a `users` table
// holding bcrypt-hashed secrets.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Authenticate returns nil when password matches the stored bcrypt hash for
// username; otherwise er.ErrUserNotFound, er.ErrInvalidPassword, or the
// query error, each wrapped in an er.Err.
func (s *Store) Authenticate(username, password string) error {
	var storedHash string

	err := s.db.QueryRow("SELECT secret FROM users WHERE username = ?", username).Scan(&storedHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &er.Err{Context: "auth", Message: er.ErrUserNotFound}
		}
		return &er.Err{Context: "auth", Message: err}
	}

	if !hash.VerifyPasswd(storedHash, password) {
		return &er.Err{Context: "auth", Message: er.ErrInvalidPassword}
	}
	return nil
}

// CreateUser hashes password with bcrypt and upserts it into the users
// table, for the broker's -adduser admin flow.
func (s *Store) CreateUser(username, password string) error {
	hashed, err := hash.HashPasswd(password, bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = s.db.Exec("INSERT INTO users(username, secret) VALUES (?, ?) ON CONFLICT(username) DO UPDATE SET secret = excluded.secret",
		username, hashed)
	if err != nil {
		return &er.Err{Context: "auth create user", Message: err}
	}
	return nil
}

// Hook wraps Store as a hook.Hook. Connections that supply no
// username/password are granted when Required is false (an open broker);
// otherwise they are denied along with any login that fails Store lookup.
type Hook struct {
	Store    *Store
	Required bool
	Log      *logger.Logger
}

func NewHook(store *Store, required bool, log *logger.Logger) *Hook {
	return &Hook{Store: store, Required: required, Log: log}
}

func (h *Hook) Authenticate(login *packet.Login) bool {
	if login == nil {
		return !h.Required
	}
	if err := h.Store.Authenticate(login.Username, login.Password); err != nil {
		h.Log.LogAuth("", login.Username, false, err.Error())
		return false
	}
	h.Log.LogAuth("", login.Username, true, "")
	return true
}

func (h *Hook) Connected(clientID string) {
	h.Log.LogClientConnection(clientID, "", "connected")
}

func (h *Hook) Disconnect(clientID string) {
	h.Log.LogClientConnection(clientID, "", "disconnected")
}
