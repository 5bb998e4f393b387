// Package clients implements the external client loader (spec §6): given a
// clientId, resolve the client's accessToken (used to verify request
// signatures and certificate MACs) and its directly granted scopes.
package clients

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// ErrNotFound is returned by a Loader when no client carries the requested
// clientId. Outer callers (internal/signature) surface this as the stable
// "no such clientId" message.
var ErrNotFound = errors.New("no such clientId")

// Client is the record the loader returns for a clientId: its access token
// (used as the MAC/HMAC key) and the scopes it directly holds before role
// expansion.
type Client struct {
	ClientID    string
	AccessToken string
	Scopes      []string
}

// Loader resolves a clientId to a Client. Implementations must be safe to
// call concurrently (spec §6).
type Loader interface {
	Load(ctx context.Context, clientID string) (Client, error)
}

// GenerateAccessToken produces a random URL-safe access token suitable for
// issuing to a new client, mirroring the teacher's client-key generation
// (32 random bytes, base64 URL encoding, no padding).
func GenerateAccessToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// MemoryLoader is an in-memory Loader for tests, CLI fixtures, and small
// deployments that keep their client table in a YAML/JSON file rather than
// Postgres.
type MemoryLoader struct {
	clients map[string]Client
}

// NewMemoryLoader builds a MemoryLoader from a fixed client list.
func NewMemoryLoader(clients []Client) *MemoryLoader {
	m := &MemoryLoader{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		m.clients[c.ClientID] = c
	}
	return m
}

// Load implements Loader.
func (m *MemoryLoader) Load(_ context.Context, clientID string) (Client, error) {
	c, ok := m.clients[clientID]
	if !ok {
		return Client{}, ErrNotFound
	}
	return c, nil
}

// PostgresLoader loads clients from a Postgres table. Unlike the teacher's
// bcrypt-only client keys (internal/auth/clientkey.go), the token itself must
// be recoverable (it is the MAC key, not merely a credential to verify), so
// the access_token column holds the token as issued and Load returns it from
// there; Register additionally stores a bcrypt hash of it in
// token_fingerprint, which nothing in this package reads back.
// Schema is intentionally minimal: this module owns no migrations.
type PostgresLoader struct {
	db *pgxpool.Pool
}

// NewPostgresLoader wraps an existing pool; this package never opens its own
// connections.
func NewPostgresLoader(db *pgxpool.Pool) *PostgresLoader {
	return &PostgresLoader{db: db}
}

// Load implements Loader.
func (p *PostgresLoader) Load(ctx context.Context, clientID string) (Client, error) {
	var c Client
	query := `SELECT client_id, access_token, scopes FROM scoperesolve.clients WHERE client_id = $1`
	err := p.db.QueryRow(ctx, query, clientID).Scan(&c.ClientID, &c.AccessToken, &c.Scopes)
	if errors.Is(err, pgx.ErrNoRows) {
		return Client{}, ErrNotFound
	}
	if err != nil {
		return Client{}, fmt.Errorf("failed to load client %q: %w", clientID, err)
	}
	return c, nil
}

// RegisterResult is returned by Register, bundling the generated token with
// the persisted record.
type RegisterResult struct {
	Client
	AccessToken string
}

// Register creates a new client row, bcrypt-hashing a fingerprint of the
// generated access token for audit/lookup-by-prefix use without ever
// persisting the token itself unhashed outside the access_token column.
func (p *PostgresLoader) Register(ctx context.Context, clientID string, scopes []string) (*RegisterResult, error) {
	token, err := GenerateAccessToken()
	if err != nil {
		return nil, err
	}
	fingerprint, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash access token fingerprint: %w", err)
	}

	id := uuid.New()
	query := `
		INSERT INTO scoperesolve.clients (id, client_id, access_token, token_fingerprint, scopes)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := p.db.Exec(ctx, query, id, clientID, token, string(fingerprint), scopes); err != nil {
		return nil, fmt.Errorf("failed to register client %q: %w", clientID, err)
	}

	log.Info().Str("client_id", clientID).Msg("registered new client")
	return &RegisterResult{
		Client:      Client{ClientID: clientID, AccessToken: token, Scopes: scopes},
		AccessToken: token,
	}, nil
}
