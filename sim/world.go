// Package sim is a simulated host: a set of inventory entities kept in an
// in-memory SQLite database that scripts can move items between.
package sim

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/runeheart/config"
	"github.com/chazu/runeheart/hostmod"
	"github.com/chazu/runeheart/snapshot"
	"github.com/tliron/commonlog"

	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("runeheart.sim")

// MaxStack is the largest count a single slot holds.
const MaxStack = 64

var (
	// ErrNoRoom is returned when the destination cannot take a single item.
	ErrNoRoom = errors.New("sim: no room in destination")

	// ErrEmptySlot is returned when the source slot holds nothing.
	ErrEmptySlot = errors.New("sim: source slot is empty")

	// ErrUnknownEntity is returned for a handle that names no entity.
	ErrUnknownEntity = errors.New("sim: unknown entity")
)

const schema = `
CREATE TABLE entities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	dimension TEXT NOT NULL,
	x INTEGER NOT NULL,
	y INTEGER NOT NULL,
	z INTEGER NOT NULL,
	slots INTEGER NOT NULL
);

CREATE TABLE stacks (
	entity_id INTEGER NOT NULL REFERENCES entities(id),
	slot INTEGER NOT NULL,
	name TEXT NOT NULL,
	count INTEGER NOT NULL CHECK (count > 0 AND count <= 64),
	tags TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (entity_id, slot)
);

CREATE TABLE moves (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	src INTEGER NOT NULL,
	dst INTEGER NOT NULL,
	slot INTEGER NOT NULL,
	face TEXT NOT NULL,
	item TEXT NOT NULL,
	count INTEGER NOT NULL
);
`

// World is a simulated world. It implements hostmod.Target; handles are
// entity ids (int64).
type World struct {
	db *sql.DB
}

var _ hostmod.Target = (*World)(nil)

// Move is one journaled transfer.
type Move struct {
	ID    int64
	Src   int64
	Dst   int64
	From  string
	To    string
	Slot  int64
	Face  hostmod.Direction
	Item  string
	Count int
}

func (m Move) String() string {
	return fmt.Sprintf("%s[%d] -> %s (%s): %s x%d", m.From, m.Slot, m.To, m.Face, m.Item, m.Count)
}

// Open creates an empty world.
func Open(ctx context.Context) (*World, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("sim: failed to open database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sim: failed to initialize schema: %w", err)
	}
	return &World{db: db}, nil
}

// Close releases the database.
func (w *World) Close() error {
	return w.db.Close()
}

// Load adds every entity of def.
func (w *World) Load(ctx context.Context, def config.World) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range def.Entities {
		if _, err := addEntity(ctx, tx, e); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	log.Debugf("loaded %d entities", len(def.Entities))
	return nil
}

// AddEntity adds one entity and returns its handle.
func (w *World) AddEntity(ctx context.Context, e config.EntityDef) (int64, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := addEntity(ctx, tx, e)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func addEntity(ctx context.Context, tx *sql.Tx, e config.EntityDef) (int64, error) {
	slots := e.Slots
	if slots == 0 {
		slots = 27
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO entities (name, dimension, x, y, z, slots) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Name, e.Dimension, e.Pos[0], e.Pos[1], e.Pos[2], slots)
	if err != nil {
		return 0, fmt.Errorf("sim: add entity %q: %w", e.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, it := range e.Items {
		if it.Slot < 0 || it.Slot >= slots {
			return 0, fmt.Errorf("sim: add entity %q: slot %d out of range", e.Name, it.Slot)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stacks (entity_id, slot, name, count, tags) VALUES (?, ?, ?, ?, ?)`,
			id, it.Slot, it.Name, it.Count, joinTags(it.Tags)); err != nil {
			return 0, fmt.Errorf("sim: add entity %q slot %d: %w", e.Name, it.Slot, err)
		}
	}
	return id, nil
}

// Snapshot returns copies of every entity in id order, along with the
// handle for each position. Empty slots are omitted.
func (w *World) Snapshot(ctx context.Context) ([]snapshot.Entity, []hostmod.Handle, error) {
	rows, err := w.db.QueryContext(ctx,
		`SELECT id, name, dimension, x, y, z FROM entities ORDER BY id`)
	if err != nil {
		return nil, nil, err
	}
	var (
		entities []snapshot.Entity
		handles  []hostmod.Handle
		ids      []int64
	)
	for rows.Next() {
		var (
			id int64
			e  snapshot.Entity
		)
		if err := rows.Scan(&id, &e.Name, &e.Dimension, &e.Pos.X, &e.Pos.Y, &e.Pos.Z); err != nil {
			rows.Close()
			return nil, nil, err
		}
		e.RawAccessIndex = int64(len(entities))
		entities = append(entities, e)
		handles = append(handles, id)
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	for i, id := range ids {
		items, err := w.stacks(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		entities[i].Items = items
	}
	return entities, handles, nil
}

func (w *World) stacks(ctx context.Context, id int64) ([]snapshot.Item, error) {
	rows, err := w.db.QueryContext(ctx,
		`SELECT slot, name, count, tags FROM stacks WHERE entity_id = ? ORDER BY slot`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []snapshot.Item{}
	for rows.Next() {
		var (
			it   snapshot.Item
			tags string
		)
		if err := rows.Scan(&it.SlotIndex, &it.Name, &it.Count, &tags); err != nil {
			return nil, err
		}
		it.Tags = splitTags(tags)
		items = append(items, it)
	}
	return items, rows.Err()
}

// MoveItem moves up to amount items (the whole stack when amount is unset)
// from slot of src into dst. Items merge into matching stacks first and
// then fill empty slots. A partial move succeeds; a move of nothing fails
// with ErrNoRoom and changes nothing.
func (w *World) MoveItem(src, dst hostmod.Handle, slot int64, face hostmod.Direction, amount hostmod.Amount) error {
	srcID, ok := src.(int64)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownEntity, src)
	}
	dstID, ok := dst.(int64)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownEntity, dst)
	}

	ctx := context.Background()
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var (
		name  string
		count int
		tags  string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT name, count, tags FROM stacks WHERE entity_id = ? AND slot = ?`, srcID, slot).
		Scan(&name, &count, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: entity %d slot %d", ErrEmptySlot, srcID, slot)
	}
	if err != nil {
		return err
	}

	want := count
	if amount.Set && amount.Count < want {
		want = amount.Count
	}
	if want <= 0 {
		return nil
	}

	var slots int
	err = tx.QueryRowContext(ctx, `SELECT slots FROM entities WHERE id = ?`, dstID).Scan(&slots)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, dstID)
	}
	if err != nil {
		return err
	}

	remaining, err := fill(ctx, tx, fillRequest{
		dst:      dstID,
		slots:    slots,
		name:     name,
		tags:     tags,
		count:    want,
		skipSelf: srcID == dstID,
		srcSlot:  slot,
	})
	if err != nil {
		return err
	}
	moved := want - remaining
	if moved == 0 {
		return fmt.Errorf("%w: entity %d", ErrNoRoom, dstID)
	}

	if moved == count {
		_, err = tx.ExecContext(ctx, `DELETE FROM stacks WHERE entity_id = ? AND slot = ?`, srcID, slot)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE stacks SET count = count - ? WHERE entity_id = ? AND slot = ?`, moved, srcID, slot)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO moves (src, dst, slot, face, item, count) VALUES (?, ?, ?, ?, ?, ?)`,
		srcID, dstID, slot, face.String(), name, moved); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	log.Debugf("moved %s x%d from %d[%d] to %d", name, moved, srcID, slot, dstID)
	return nil
}

type fillRequest struct {
	dst      int64
	slots    int
	name     string
	tags     string
	count    int
	skipSelf bool
	srcSlot  int64
}

// fill places up to r.count items in r.dst and returns how many did not fit.
func fill(ctx context.Context, tx *sql.Tx, r fillRequest) (int, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT slot, name, count, tags FROM stacks WHERE entity_id = ? ORDER BY slot`, r.dst)
	if err != nil {
		return 0, err
	}
	type stack struct {
		slot  int64
		count int
		match bool
	}
	var existing []stack
	used := make(map[int64]bool)
	for rows.Next() {
		var (
			s          stack
			name, tags string
		)
		if err := rows.Scan(&s.slot, &name, &s.count, &tags); err != nil {
			rows.Close()
			return 0, err
		}
		s.match = name == r.name && tags == r.tags
		used[s.slot] = true
		existing = append(existing, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	remaining := r.count
	for _, s := range existing {
		if remaining == 0 {
			break
		}
		if !s.match || s.count >= MaxStack || (r.skipSelf && s.slot == r.srcSlot) {
			continue
		}
		n := min(MaxStack-s.count, remaining)
		if _, err := tx.ExecContext(ctx,
			`UPDATE stacks SET count = count + ? WHERE entity_id = ? AND slot = ?`, n, r.dst, s.slot); err != nil {
			return 0, err
		}
		remaining -= n
	}

	for slot := int64(0); slot < int64(r.slots) && remaining > 0; slot++ {
		if used[slot] {
			continue
		}
		n := min(MaxStack, remaining)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stacks (entity_id, slot, name, count, tags) VALUES (?, ?, ?, ?, ?)`,
			r.dst, slot, r.name, n, r.tags); err != nil {
			return 0, err
		}
		remaining -= n
	}
	return remaining, nil
}

// Moves returns the move journal, oldest first.
func (w *World) Moves(ctx context.Context) ([]Move, error) {
	return w.MovesSince(ctx, 0)
}

// MovesSince returns the journaled moves with an id greater than after.
func (w *World) MovesSince(ctx context.Context, after int64) ([]Move, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT m.id, m.src, m.dst, s.name, d.name, m.slot, m.face, m.item, m.count
		FROM moves m
		JOIN entities s ON s.id = m.src
		JOIN entities d ON d.id = m.dst
		WHERE m.id > ?
		ORDER BY m.id`, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var moves []Move
	for rows.Next() {
		var (
			m    Move
			face string
		)
		if err := rows.Scan(&m.ID, &m.Src, &m.Dst, &m.From, &m.To, &m.Slot, &face, &m.Item, &m.Count); err != nil {
			return nil, err
		}
		m.Face, _ = hostmod.ParseDirection(face)
		moves = append(moves, m)
	}
	return moves, rows.Err()
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}
