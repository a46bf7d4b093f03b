// Package inventory persists hub nodes and devices in SQLite.
package inventory

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/httprunner/DevicePool/internal/sqlitex"
	"github.com/httprunner/DevicePool/pkg/device"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrDeviceNotFound is returned when no device row matches a name.
var ErrDeviceNotFound = errors.New("inventory: device not found")

// Node is a hub registration: one device reachable at ip:port on hub HubID.
type Node struct {
	ID         int64
	HubID      int
	IP         string
	Port       int
	DeviceName string
}

// Store is the durable record of known devices and their hub nodes.
// Every write touches a single row so concurrent harness processes only
// contend on SQLite's busy timeout.
type Store struct {
	db     *sql.DB
	ownsDB bool
	clock  func() time.Time
}

// Open opens the inventory at path; an empty path uses the default location.
func Open(path string) (*Store, error) {
	db, err := sqlitex.Open(path)
	if err != nil {
		return nil, err
	}
	store, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// New wraps an already configured database and prepares the schema.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("inventory: db is nil")
	}
	if err := prepareSchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db, clock: time.Now}, nil
}

// DB exposes the underlying handle so the ledger can share the file.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	if s == nil || s.db == nil || !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func prepareSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL COLLATE NOCASE UNIQUE,
			platform TEXT NOT NULL,
			location TEXT NOT NULL,
			type TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS nodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			hub_id INTEGER NOT NULL,
			ip TEXT NOT NULL,
			port INTEGER NOT NULL,
			device_name TEXT NOT NULL COLLATE NOCASE,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_hub ON nodes(hub_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "inventory: init schema failed")
		}
	}
	return nil
}

// NodesForHub lists every node registered on hub.
func (s *Store) NodesForHub(ctx context.Context, hub int) ([]Node, error) {
	return s.queryNodes(ctx, `SELECT id, hub_id, ip, port, device_name FROM nodes WHERE hub_id = ? ORDER BY id`, hub)
}

// ListNodes lists every node on every hub.
func (s *Store) ListNodes(ctx context.Context) ([]Node, error) {
	return s.queryNodes(ctx, `SELECT id, hub_id, ip, port, device_name FROM nodes ORDER BY hub_id, id`)
}

func (s *Store) queryNodes(ctx context.Context, query string, args ...any) ([]Node, error) {
	log.Debug().Str("sql", sqlitex.FormatSQLForLog(query, args...)).Msg("inventory query")
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "inventory: query nodes failed")
	}
	defer rows.Close()
	var nodes []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.HubID, &n.IP, &n.Port, &n.DeviceName); err != nil {
			return nil, errors.Wrap(err, "inventory: scan node failed")
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "inventory: iterate nodes failed")
	}
	return nodes, nil
}

// AddNode registers a device endpoint on a hub and returns the node id.
func (s *Store) AddNode(ctx context.Context, node Node) (int64, error) {
	if strings.TrimSpace(node.IP) == "" || strings.TrimSpace(node.DeviceName) == "" {
		return 0, errors.New("inventory: node requires ip and device name")
	}
	if node.Port <= 0 || node.Port > 65535 {
		return 0, errors.Errorf("inventory: invalid node port %d", node.Port)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO nodes (hub_id, ip, port, device_name, created_at) VALUES (?, ?, ?, ?, ?)`,
		node.HubID, strings.TrimSpace(node.IP), node.Port, strings.TrimSpace(node.DeviceName), s.clock())
	if err != nil {
		return 0, errors.Wrap(err, "inventory: insert node failed")
	}
	return res.LastInsertId()
}

// DeleteNode removes a node registration. Deleting a missing node is not an error.
func (s *Store) DeleteNode(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id); err != nil {
		return errors.Wrapf(err, "inventory: delete node %d failed", id)
	}
	return nil
}

// DeviceByName looks a device up by case-insensitive name.
func (s *Store) DeviceByName(ctx context.Context, name string) (*device.Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, platform, location, type FROM devices WHERE name = ?`, strings.TrimSpace(name))
	dev, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrDeviceNotFound, "name=%s", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "inventory: load device %s failed", name)
	}
	return dev, nil
}

// ListDevices returns every known device ordered by name.
func (s *Store) ListDevices(ctx context.Context) ([]*device.Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, platform, location, type FROM devices ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "inventory: query devices failed")
	}
	defer rows.Close()
	var out []*device.Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, errors.Wrap(err, "inventory: scan device failed")
		}
		out = append(out, dev)
	}
	return out, errors.Wrap(rows.Err(), "inventory: iterate devices failed")
}

// EnsureDevice resolves dev by name, creating it when missing. An existing
// row is returned as stored: platform and location never change mid-run.
func (s *Store) EnsureDevice(ctx context.Context, dev device.Device) (*device.Device, error) {
	if strings.TrimSpace(dev.Name) == "" {
		return nil, errors.New("inventory: device name is empty")
	}
	now := s.clock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (name, platform, location, type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(name) DO NOTHING`,
		strings.TrimSpace(dev.Name), string(dev.Platform), string(dev.Location), string(dev.Type), now, now)
	if err != nil {
		return nil, errors.Wrapf(err, "inventory: ensure device %s failed", dev.Name)
	}
	return s.DeviceByName(ctx, dev.Name)
}

// UpsertDevice creates or overwrites a device definition. Used by the
// inventory admin commands, never during a run.
func (s *Store) UpsertDevice(ctx context.Context, dev device.Device) (*device.Device, error) {
	if strings.TrimSpace(dev.Name) == "" {
		return nil, errors.New("inventory: device name is empty")
	}
	now := s.clock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (name, platform, location, type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET platform=excluded.platform, location=excluded.location,
			type=excluded.type, updated_at=excluded.updated_at`,
		strings.TrimSpace(dev.Name), string(dev.Platform), string(dev.Location), string(dev.Type), now, now)
	if err != nil {
		return nil, errors.Wrapf(err, "inventory: upsert device %s failed", dev.Name)
	}
	return s.DeviceByName(ctx, dev.Name)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*device.Device, error) {
	var (
		dev                      device.Device
		platform, location, kind string
	)
	if err := row.Scan(&dev.ID, &dev.Name, &platform, &location, &kind); err != nil {
		return nil, err
	}
	dev.Platform = device.ParsePlatform(platform)
	dev.Type = device.ParseType(kind)
	loc, err := device.ParseLocation(location)
	if err != nil {
		// keep the raw value; the driver factory rejects it
		loc = device.Location(strings.ToLower(location))
	}
	dev.Location = loc
	return &dev, nil
}
