package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rexliu/topics/pkg/core"
)

// ApplyOps applies a batch atomically and returns the reloaded graph.
func (s *Store) ApplyOps(ctx context.Context, ops []core.Op) (*core.Graph, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	version, err := nextVersion(ctx, tx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	for _, op := range ops {
		if err := s.applyOp(ctx, tx, version, op); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("%s: %w", core.OpName(op), err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key, value) VALUES ('graphVersion', ?)`, core.NewVersionID()); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.LoadGraph(ctx)
}

func (s *Store) applyOp(ctx context.Context, tx *sql.Tx, version int64, op core.Op) error {
	switch v := op.(type) {
	case core.CreateTopicOp:
		_, err := s.applyCreate(ctx, tx, version, v.ParentID, v)
		return err
	case core.RenameTopicOp:
		res, err := tx.ExecContext(ctx, `UPDATE topics SET key = ?, updated_at = ? WHERE id = ?`, v.Key, time.Now().UnixMilli(), v.TopicID)
		return wrapRowsAffected(res, err)
	case core.MoveTopicOp:
		return s.applyMove(ctx, tx, v)
	case core.DeleteTopicOp:
		return s.applyDelete(ctx, tx, v)
	case core.SetAttributesOp:
		return s.applySetAttributes(ctx, tx, version, v)
	case core.SetRelationshipOp:
		return s.applySetRelationship(ctx, tx, v)
	case core.RollbackOp:
		return s.applyRollback(ctx, tx, version, v)
	default:
		return fmt.Errorf("unsupported op %T", op)
	}
}

func (s *Store) applyCreate(ctx context.Context, tx *sql.Tx, version, parentID int64, op core.CreateTopicOp) (int64, error) {
	ord, err := s.calcOrd(ctx, tx, parentID, 0, op.Index)
	if err != nil {
		return 0, err
	}
	now := time.Now().UnixMilli()
	res, err := tx.ExecContext(ctx, `INSERT INTO topics(parent_id, key, content_type, ord, created_at, updated_at) VALUES(?,?,?,?,?,?)`,
		parentID, op.Key, op.ContentType, ord, now, now)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for key, value := range op.Attributes {
		if err := writeAttribute(ctx, tx, id, key, &value, version); err != nil {
			return 0, err
		}
	}
	for _, child := range op.Children {
		if _, err := s.applyCreate(ctx, tx, version, id, child); err != nil {
			return 0, fmt.Errorf("child %q: %w", child.Key, err)
		}
	}
	return id, nil
}

func (s *Store) applyMove(ctx context.Context, tx *sql.Tx, op core.MoveTopicOp) error {
	ord, err := s.calcOrd(ctx, tx, op.NewParentID, op.TopicID, op.NewIndex)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE topics SET parent_id = ?, ord = ?, updated_at = ? WHERE id = ?`, op.NewParentID, ord, time.Now().UnixMilli(), op.TopicID)
	return wrapRowsAffected(res, err)
}

func (s *Store) applyDelete(ctx context.Context, tx *sql.Tx, op core.DeleteTopicOp) error {
	if !op.Recursive {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM topics WHERE parent_id = ?`, op.TopicID).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return core.ErrHasChildren
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM topics WHERE id = ?`, op.TopicID)
	return wrapRowsAffected(res, err)
}

func (s *Store) applySetAttributes(ctx context.Context, tx *sql.Tx, version int64, op core.SetAttributesOp) error {
	if err := touch(ctx, tx, op.TopicID); err != nil {
		return err
	}
	for key, value := range op.Set {
		if err := writeAttribute(ctx, tx, op.TopicID, key, &value, version); err != nil {
			return err
		}
	}
	for _, key := range op.Unset {
		if err := writeAttribute(ctx, tx, op.TopicID, key, nil, version); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applySetRelationship(ctx context.Context, tx *sql.Tx, op core.SetRelationshipOp) error {
	if err := touch(ctx, tx, op.TopicID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE topic_id = ? AND name = ?`, op.TopicID, op.Name); err != nil {
		return err
	}
	for idx, target := range op.TargetIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO relationships(topic_id, name, target_id, ord) VALUES(?,?,?,?)`,
			op.TopicID, op.Name, target, idx); err != nil {
			return err
		}
	}
	return nil
}

// applyRollback writes a new version whose values match the state at op.Version.
func (s *Store) applyRollback(ctx context.Context, tx *sql.Tx, version int64, op core.RollbackOp) error {
	if err := touch(ctx, tx, op.TopicID); err != nil {
		return err
	}
	current, err := attributesAsOf(ctx, tx, op.TopicID, version)
	if err != nil {
		return err
	}
	target, err := attributesAsOf(ctx, tx, op.TopicID, op.Version)
	if err != nil {
		return err
	}
	for key, value := range target {
		if cur, ok := current[key]; ok && cur == value {
			continue
		}
		if err := writeAttribute(ctx, tx, op.TopicID, key, &value, version); err != nil {
			return err
		}
	}
	for key := range current {
		if _, ok := target[key]; ok {
			continue
		}
		if err := writeAttribute(ctx, tx, op.TopicID, key, nil, version); err != nil {
			return err
		}
	}
	return nil
}

func attributesAsOf(ctx context.Context, tx *sql.Tx, topicID, version int64) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT a.key, a.value
		FROM attributes a
		JOIN (
			SELECT key, MAX(version) AS version
			FROM attributes
			WHERE topic_id = ? AND version <= ?
			GROUP BY key
		) latest ON a.key = latest.key AND a.version = latest.version
		WHERE a.topic_id = ? AND a.value IS NOT NULL;
	`, topicID, version, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	values := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	return values, rows.Err()
}

func writeAttribute(ctx context.Context, tx *sql.Tx, topicID int64, key string, value *string, version int64) error {
	_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO attributes(topic_id, key, value, version) VALUES(?,?,?,?)`,
		topicID, key, value, version)
	return err
}

func touch(ctx context.Context, tx *sql.Tx, topicID int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE topics SET updated_at = ? WHERE id = ?`, time.Now().UnixMilli(), topicID)
	return wrapRowsAffected(res, err)
}

// nextVersion returns a millisecond stamp that is strictly greater than any
// version already recorded.
func nextVersion(ctx context.Context, tx *sql.Tx) (int64, error) {
	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(version) FROM attributes`).Scan(&latest); err != nil {
		return 0, err
	}
	now := time.Now().UnixMilli()
	if latest.Valid && latest.Int64 >= now {
		return latest.Int64 + 1, nil
	}
	return now, nil
}

// calcOrd picks an ord for inserting under parentID at index, ignoring the
// moving topic itself. Crowded siblings are renumbered first.
func (s *Store) calcOrd(ctx context.Context, tx *sql.Tx, parentID, exclude int64, index *int) (float64, error) {
	ids, ords, err := siblingOrds(ctx, tx, parentID, exclude)
	if err != nil {
		return 0, err
	}
	pos := len(ords)
	if index != nil {
		pos = *index
	}
	ord, crowded := core.OrdAt(ords, pos)
	if !crowded {
		return ord, nil
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE topics SET ord = ? WHERE id = ?`, float64(i), id); err != nil {
			return 0, err
		}
		ords[i] = float64(i)
	}
	ord, _ = core.OrdAt(ords, pos)
	return ord, nil
}

func siblingOrds(ctx context.Context, tx *sql.Tx, parentID, exclude int64) ([]int64, []float64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, ord FROM topics WHERE parent_id = ? AND id != ? ORDER BY ord ASC`, parentID, exclude)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var (
		ids  []int64
		ords []float64
	)
	for rows.Next() {
		var (
			id  int64
			ord float64
		)
		if err := rows.Scan(&id, &ord); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		ords = append(ords, ord)
	}
	return ids, ords, rows.Err()
}

// Version describes one recorded attribute revision of a topic.
type Version struct {
	Version int64    `json:"version"`
	Keys    []string `json:"keys"`
}

// Versions lists the attribute revisions of a topic, newest first.
func (s *Store) Versions(ctx context.Context, topicID int64) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version, key FROM attributes WHERE topic_id = ? ORDER BY version DESC, key ASC`, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Version
	for rows.Next() {
		var (
			version int64
			key     string
		)
		if err := rows.Scan(&version, &key); err != nil {
			return nil, err
		}
		if n := len(out); n > 0 && out[n-1].Version == version {
			out[n-1].Keys = append(out[n-1].Keys, key)
			continue
		}
		out = append(out, Version{Version: version, Keys: []string{key}})
	}
	return out, rows.Err()
}

func wrapRowsAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNoRowsAffected
	}
	return nil
}
