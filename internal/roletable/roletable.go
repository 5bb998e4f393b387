// Package roletable implements the external role table loader (spec §6):
// producing the raw []roles.Role the RoleExpander closes over. Storage of
// the role table itself is a non-goal of the spec; only the interface it
// feeds into internal/roles and internal/resolver is in scope.
package roletable

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/scopeforge/scoperesolve/internal/roles"
)

// Source loads the current role table. Implementations must be safe to call
// concurrently; internal/resolvercache calls Load again each time a rebuild
// is triggered.
type Source interface {
	Load(ctx context.Context) ([]roles.Role, error)
}

// StaticSource serves a fixed table, for tests. (scoperesolve lint/query
// read their table with LoadFile instead.)
type StaticSource struct {
	table []roles.Role
}

// NewStaticSource wraps a fixed role table.
func NewStaticSource(table []roles.Role) StaticSource {
	return StaticSource{table: table}
}

// Load implements Source.
func (s StaticSource) Load(_ context.Context) ([]roles.Role, error) {
	return s.table, nil
}

// roleFile mirrors the on-disk shape accepted by the CLI's --roles flag:
// a flat map of roleId to the scopes it directly grants.
type roleFile struct {
	Roles map[string][]string `yaml:"roles" json:"roles"`
}

// LoadFile reads a role table from a YAML or JSON file (selected by
// extension; anything not ".json" is parsed as YAML, which is a superset of
// JSON anyway).
func LoadFile(path string) ([]roles.Role, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role table %q: %w", path, err)
	}

	var rf roleFile
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, &rf); err != nil {
			return nil, fmt.Errorf("failed to parse role table %q: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &rf); err != nil {
			return nil, fmt.Errorf("failed to parse role table %q: %w", path, err)
		}
	}

	table := make([]roles.Role, 0, len(rf.Roles))
	for roleID, scopes := range rf.Roles {
		table = append(table, roles.Role{RoleID: roleID, Scopes: scopes})
	}
	return table, nil
}

// PostgresSource loads the role table from Postgres, grounded on
// internal/clients.PostgresLoader's pgxpool.Pool-backed pattern. Schema is
// intentionally minimal: this module owns no migrations.
type PostgresSource struct {
	db *pgxpool.Pool
}

// NewPostgresSource wraps an existing pool; this package never opens its own
// connections.
func NewPostgresSource(db *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{db: db}
}

// Load implements Source.
func (p *PostgresSource) Load(ctx context.Context) ([]roles.Role, error) {
	rows, err := p.db.Query(ctx, `SELECT role_id, scopes FROM scoperesolve.roles`)
	if err != nil {
		return nil, fmt.Errorf("failed to load role table: %w", err)
	}
	defer rows.Close()

	var table []roles.Role
	for rows.Next() {
		var r roles.Role
		if err := rows.Scan(&r.RoleID, &r.Scopes); err != nil {
			return nil, fmt.Errorf("failed to scan role row: %w", err)
		}
		table = append(table, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read role table: %w", err)
	}
	return table, nil
}
