package alarmstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"backend/internal/alarmmodel"
	"backend/internal/condition"
	"backend/internal/repository"
	"github.com/oklog/ulid/v2"
)

// SaveRule inserts or replaces rule, re-derives its RuleEntityRef rows from
// the parsed condition tree, and bumps the reverse-index version token, all
// inside one transaction so a reader never observes a rule without its
// matching refs.
func (s *Store) SaveRule(ctx context.Context, rule alarmmodel.Rule) error {
	node, err := condition.Parse(rule.Definition.When)
	if err != nil {
		return fmt.Errorf("alarmstore: save rule %s: parse condition: %w", rule.ID, err)
	}
	entityIDs := condition.ExtractEntityIds(node)

	defJSON, err := marshalJSON(rule.Definition)
	if err != nil {
		return fmt.Errorf("alarmstore: save rule %s: marshal definition: %w", rule.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("alarmstore: save rule %s: begin tx: %w", rule.ID, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO rules (id, name, kind, enabled, priority, cooldown_seconds, definition_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	kind = excluded.kind,
	enabled = excluded.enabled,
	priority = excluded.priority,
	cooldown_seconds = excluded.cooldown_seconds,
	definition_json = excluded.definition_json,
	updated_at = excluded.updated_at`,
		rule.ID.String(), rule.Name, string(rule.Kind), boolToInt(rule.Enabled), rule.Priority,
		rule.CooldownSeconds, defJSON, createdAt.UTC().Format(time.RFC3339Nano), now)
	if err != nil {
		return fmt.Errorf("alarmstore: save rule %s: upsert: %w", rule.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_entity_refs WHERE rule_id = ?`, rule.ID.String()); err != nil {
		return fmt.Errorf("alarmstore: save rule %s: clear refs: %w", rule.ID, err)
	}
	for _, entityID := range entityIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO rule_entity_refs (rule_id, entity_id) VALUES (?, ?)`,
			rule.ID.String(), entityID); err != nil {
			return fmt.Errorf("alarmstore: save rule %s: insert ref %s: %w", rule.ID, entityID, err)
		}
	}

	if err := bumpReverseIndexVersion(ctx, tx); err != nil {
		return fmt.Errorf("alarmstore: save rule %s: bump version: %w", rule.ID, err)
	}

	return tx.Commit()
}

// DeleteRule removes rule and its reverse-index refs, and bumps the version
// token so the next reverse-index rebuild drops it.
func (s *Store) DeleteRule(ctx context.Context, id ulid.ULID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("alarmstore: delete rule %s: begin tx: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_entity_refs WHERE rule_id = ?`, id.String()); err != nil {
		return fmt.Errorf("alarmstore: delete rule %s: refs: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_runtime_state WHERE rule_id = ?`, id.String()); err != nil {
		return fmt.Errorf("alarmstore: delete rule %s: runtime: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("alarmstore: delete rule %s: %w", id, err)
	}
	if err := bumpReverseIndexVersion(ctx, tx); err != nil {
		return fmt.Errorf("alarmstore: delete rule %s: bump version: %w", id, err)
	}
	return tx.Commit()
}

// GetRule fetches one rule by id, used by admin-facing lookups and tests.
func (s *Store) GetRule(id ulid.ULID) (alarmmodel.Rule, error) {
	row := s.db.QueryRow(`SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id.String())
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return alarmmodel.Rule{}, repository.NotFound("Rule", id.String())
	}
	if err != nil {
		return alarmmodel.Rule{}, fmt.Errorf("alarmstore: get rule %s: %w", id, err)
	}
	return r, nil
}
