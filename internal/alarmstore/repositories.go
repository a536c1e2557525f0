package alarmstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"backend/internal/alarmmodel"
	"backend/internal/rulesengine"
	"github.com/oklog/ulid/v2"
)

const ruleColumns = `id, name, kind, enabled, priority, cooldown_seconds, definition_json, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (alarmmodel.Rule, error) {
	var r alarmmodel.Rule
	var (
		idStr, kind, defJSON, createdAt, updatedAt string
		enabled                                    int
	)
	if err := row.Scan(&idStr, &r.Name, &kind, &enabled, &r.Priority, &r.CooldownSeconds, &defJSON, &createdAt, &updatedAt); err != nil {
		return r, err
	}
	id, err := ulid.Parse(idStr)
	if err != nil {
		return r, fmt.Errorf("alarmstore: parse rule id %q: %w", idStr, err)
	}
	r.ID = id
	r.Kind = alarmmodel.RuleKind(kind)
	r.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(defJSON), &r.Definition); err != nil {
		return r, fmt.Errorf("alarmstore: unmarshal rule %s definition: %w", idStr, err)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return r, nil
}

func idPlaceholders(n int) string { return strings.TrimSuffix(strings.Repeat("?,", n), ",") }

// ListEnabledRules returns enabled rules ordered priority DESC, id ASC,
// matching Rule.objects.filter(enabled=True).order_by("-priority", "id").
func (s *Store) ListEnabledRules() ([]alarmmodel.Rule, error) {
	rows, err := s.db.Query(`SELECT ` + ruleColumns + ` FROM rules WHERE enabled = 1 ORDER BY priority DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("alarmstore: list enabled rules: %w", err)
	}
	defer rows.Close()

	var out []alarmmodel.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RulesByIDs fetches enabled rules by primary key, used by the reverse
// index after resolving which rule ids a changed entity set touches.
func (s *Store) RulesByIDs(ids []ulid.ULID) ([]alarmmodel.Rule, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE enabled = 1 AND id IN (` + idPlaceholders(len(ids)) + `)`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("alarmstore: rules by ids: %w", err)
	}
	defer rows.Close()

	var out []alarmmodel.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func entityStateRows(rows *sql.Rows) (map[string]*string, error) {
	out := map[string]*string{}
	for rows.Next() {
		var id string
		var state sql.NullString
		if err := rows.Scan(&id, &state); err != nil {
			return nil, err
		}
		if state.Valid {
			v := state.String
			out[id] = &v
		} else {
			out[id] = nil
		}
	}
	return out, rows.Err()
}

// EntityStateMap returns every known entity's last_state value.
func (s *Store) EntityStateMap() (map[string]*string, error) {
	rows, err := s.db.Query(`SELECT entity_id, last_state FROM entities`)
	if err != nil {
		return nil, fmt.Errorf("alarmstore: entity state map: %w", err)
	}
	defer rows.Close()
	return entityStateRows(rows)
}

// EntityStatesByIDs restricts EntityStateMap to the given ids, used by the
// dispatcher to avoid loading the full entity table on every batch.
func (s *Store) EntityStatesByIDs(ids []string) (map[string]*string, error) {
	if len(ids) == 0 {
		return map[string]*string{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT entity_id, last_state FROM entities WHERE entity_id IN (` + idPlaceholders(len(ids)) + `)`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("alarmstore: entity states by ids: %w", err)
	}
	defer rows.Close()
	return entityStateRows(rows)
}

// DueRuntimes returns runtime rows whose scheduled_for has elapsed, joined
// to their parent enabled rule, matching the source's select_for_update
// query (minus the row lock, which the single-writer connection pool makes
// unnecessary).
func (s *Store) DueRuntimes(now time.Time) ([]rulesengine.RuleRuntime, error) {
	query := `
SELECT r.` + strings.ReplaceAll(ruleColumns, ", ", ", r.") + `,
       rt.node_id, rt.scheduled_for, rt.became_true_at, rt.last_fired_at,
       rt.consecutive_failures, rt.last_failure_at, rt.last_error, rt.next_allowed_at,
       rt.error_suspended, rt.status
FROM rule_runtime_state rt
JOIN rules r ON r.id = rt.rule_id
WHERE rt.scheduled_for IS NOT NULL AND rt.scheduled_for <= ? AND r.enabled = 1
ORDER BY rt.scheduled_for ASC, r.id ASC`

	rows, err := s.db.Query(query, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("alarmstore: due runtimes: %w", err)
	}
	defer rows.Close()

	var out []rulesengine.RuleRuntime
	for rows.Next() {
		var (
			idStr, name, kind, defJSON, createdAt, updatedAt string
			enabled, priority, cooldown                      int
			nodeID, status                                    string
			scheduledFor, becameTrueAt, lastFiredAt           sql.NullString
			consecutiveFailures                               int
			lastFailureAt, lastError, nextAllowedAt           sql.NullString
			errorSuspended                                    int
		)
		if err := rows.Scan(
			&idStr, &name, &kind, &enabled, &priority, &cooldown, &defJSON, &createdAt, &updatedAt,
			&nodeID, &scheduledFor, &becameTrueAt, &lastFiredAt,
			&consecutiveFailures, &lastFailureAt, &lastError, &nextAllowedAt,
			&errorSuspended, &status,
		); err != nil {
			return nil, err
		}

		id, err := ulid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("alarmstore: parse rule id %q: %w", idStr, err)
		}
		rule := alarmmodel.Rule{
			ID: id, Name: name, Kind: alarmmodel.RuleKind(kind), Enabled: enabled != 0,
			Priority: priority, CooldownSeconds: cooldown,
		}
		if err := json.Unmarshal([]byte(defJSON), &rule.Definition); err != nil {
			return nil, fmt.Errorf("alarmstore: unmarshal rule %s definition: %w", idStr, err)
		}
		rule.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		rule.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

		sched, err := scanNullableTime(scheduledFor)
		if err != nil {
			return nil, err
		}
		became, err := scanNullableTime(becameTrueAt)
		if err != nil {
			return nil, err
		}
		fired, err := scanNullableTime(lastFiredAt)
		if err != nil {
			return nil, err
		}
		failedAt, err := scanNullableTime(lastFailureAt)
		if err != nil {
			return nil, err
		}
		allowedAt, err := scanNullableTime(nextAllowedAt)
		if err != nil {
			return nil, err
		}

		runtime := &alarmmodel.RuleRuntimeState{
			RuleID: id, NodeID: nodeID, ScheduledFor: sched, BecameTrueAt: became,
			LastFiredAt: fired, ConsecutiveFailures: consecutiveFailures, LastFailureAt: failedAt,
			LastError: lastError.String, NextAllowedAt: allowedAt, ErrorSuspended: errorSuspended != 0,
			Status: status,
		}
		out = append(out, rulesengine.RuleRuntime{Rule: rule, Runtime: runtime})
	}
	return out, rows.Err()
}

// EnsureRuntime returns rule's runtime row, creating a pending default one
// if absent, matching RuleRuntimeState.objects.get_or_create(rule=rule).
func (s *Store) EnsureRuntime(rule alarmmodel.Rule) (*alarmmodel.RuleRuntimeState, error) {
	row := s.db.QueryRow(`
SELECT node_id, scheduled_for, became_true_at, last_fired_at, consecutive_failures,
       last_failure_at, last_error, next_allowed_at, error_suspended, status
FROM rule_runtime_state WHERE rule_id = ?`, rule.ID.String())

	var (
		nodeID, status                          string
		scheduledFor, becameTrueAt, lastFiredAt sql.NullString
		consecutiveFailures                     int
		lastFailureAt, lastError, nextAllowedAt sql.NullString
		errorSuspended                           int
	)
	err := row.Scan(&nodeID, &scheduledFor, &becameTrueAt, &lastFiredAt, &consecutiveFailures,
		&lastFailureAt, &lastError, &nextAllowedAt, &errorSuspended, &status)
	if err == sql.ErrNoRows {
		rt := &alarmmodel.RuleRuntimeState{RuleID: rule.ID, NodeID: "when", Status: "pending"}
		if _, err := s.db.Exec(`
INSERT INTO rule_runtime_state (rule_id, node_id, status) VALUES (?, ?, ?)`,
			rule.ID.String(), rt.NodeID, rt.Status); err != nil {
			return nil, fmt.Errorf("alarmstore: create runtime for %s: %w", rule.ID, err)
		}
		return rt, nil
	}
	if err != nil {
		return nil, fmt.Errorf("alarmstore: ensure runtime for %s: %w", rule.ID, err)
	}

	sched, err := scanNullableTime(scheduledFor)
	if err != nil {
		return nil, err
	}
	became, err := scanNullableTime(becameTrueAt)
	if err != nil {
		return nil, err
	}
	fired, err := scanNullableTime(lastFiredAt)
	if err != nil {
		return nil, err
	}
	failedAt, err := scanNullableTime(lastFailureAt)
	if err != nil {
		return nil, err
	}
	allowedAt, err := scanNullableTime(nextAllowedAt)
	if err != nil {
		return nil, err
	}

	return &alarmmodel.RuleRuntimeState{
		RuleID: rule.ID, NodeID: nodeID, ScheduledFor: sched, BecameTrueAt: became,
		LastFiredAt: fired, ConsecutiveFailures: consecutiveFailures, LastFailureAt: failedAt,
		LastError: lastError.String, NextAllowedAt: allowedAt, ErrorSuspended: errorSuspended != 0,
		Status: status,
	}, nil
}

// SaveRuntime upserts rt, the single allowed write path for scheduling and
// failure bookkeeping.
func (s *Store) SaveRuntime(rt *alarmmodel.RuleRuntimeState) error {
	_, err := s.db.Exec(`
INSERT INTO rule_runtime_state
	(rule_id, node_id, scheduled_for, became_true_at, last_fired_at, consecutive_failures,
	 last_failure_at, last_error, next_allowed_at, error_suspended, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(rule_id) DO UPDATE SET
	node_id = excluded.node_id,
	scheduled_for = excluded.scheduled_for,
	became_true_at = excluded.became_true_at,
	last_fired_at = excluded.last_fired_at,
	consecutive_failures = excluded.consecutive_failures,
	last_failure_at = excluded.last_failure_at,
	last_error = excluded.last_error,
	next_allowed_at = excluded.next_allowed_at,
	error_suspended = excluded.error_suspended,
	status = excluded.status`,
		rt.RuleID.String(), rt.NodeID, nullableTime(rt.ScheduledFor), nullableTime(rt.BecameTrueAt),
		nullableTime(rt.LastFiredAt), rt.ConsecutiveFailures, nullableTime(rt.LastFailureAt),
		rt.LastError, nullableTime(rt.NextAllowedAt), boolToInt(rt.ErrorSuspended), rt.Status)
	if err != nil {
		return fmt.Errorf("alarmstore: save runtime for %s: %w", rt.RuleID, err)
	}
	return nil
}

// GetAlarmState returns the alarm panel's current state, read from the
// most recently opened snapshot row, matching the synthetic "alarm_state"
// entity alarm_state_in conditions evaluate against.
func (s *Store) GetAlarmState() (string, bool) {
	var state string
	err := s.db.QueryRow(`SELECT state FROM alarm_state_snapshots WHERE closed_at IS NULL ORDER BY opened_at DESC LIMIT 1`).Scan(&state)
	if err != nil {
		return "", false
	}
	return state, true
}

// FrigateIsAvailable reports whether a detection has been recorded recently
// enough that frigate_person_detected's on_unavailable fallback shouldn't
// trigger.
func (s *Store) FrigateIsAvailable(now time.Time) bool {
	var count int
	cutoff := now.Add(-5 * time.Minute).UTC().Format(time.RFC3339Nano)
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM frigate_detections WHERE observed_at >= ?`, cutoff).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// ListFrigateDetections returns detections for label across any of cameras
// observed at or after since, used to evaluate frigate_person_detected's
// aggregation/percentile window.
func (s *Store) ListFrigateDetections(label string, cameras []string, since time.Time) ([]alarmmodel.Detection, error) {
	query := `SELECT provider, event_id, label, camera, zones_json, confidence_pct, observed_at
FROM frigate_detections WHERE label = ? AND observed_at >= ?`
	args := []any{label, since.UTC().Format(time.RFC3339Nano)}
	if len(cameras) > 0 {
		args2 := make([]any, len(cameras))
		for i, c := range cameras {
			args2[i] = c
		}
		query += ` AND camera IN (` + idPlaceholders(len(cameras)) + `)`
		args = append(args, args2...)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("alarmstore: list frigate detections: %w", err)
	}
	defer rows.Close()

	var out []alarmmodel.Detection
	for rows.Next() {
		var d alarmmodel.Detection
		var zonesJSON, observedAt string
		if err := rows.Scan(&d.Provider, &d.EventID, &d.Label, &d.Camera, &zonesJSON, &d.ConfidencePct, &observedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(zonesJSON), &d.Zones); err != nil {
			return nil, fmt.Errorf("alarmstore: unmarshal detection zones: %w", err)
		}
		d.ObservedAt, _ = time.Parse(time.RFC3339Nano, observedAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

// LogRuleAction writes an immutable audit row for one fired evaluation.
func (s *Store) LogRuleAction(entry alarmmodel.RuleActionLog) error {
	actionsJSON, err := marshalJSON(entry.Actions)
	if err != nil {
		return fmt.Errorf("alarmstore: marshal action log actions: %w", err)
	}
	resultJSON, err := marshalJSON(entry.Result)
	if err != nil {
		return fmt.Errorf("alarmstore: marshal action log result: %w", err)
	}
	traceJSON, err := marshalJSON(entry.Trace)
	if err != nil {
		return fmt.Errorf("alarmstore: marshal action log trace: %w", err)
	}

	_, err = s.db.Exec(`
INSERT INTO rule_action_log (id, rule_id, fired_at, kind, actions_json, result_json, trace_json, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.RuleID.String(), entry.FiredAt.UTC().Format(time.RFC3339Nano),
		entry.Kind, actionsJSON, resultJSON, traceJSON, entry.Error)
	if err != nil {
		return fmt.Errorf("alarmstore: log rule action for %s: %w", entry.RuleID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// EntityRuleRefs returns the full entity_id -> rule_id reverse-index table,
// consulted by reverseindex.Index on each TTL-driven rebuild.
func (s *Store) EntityRuleRefs() ([]alarmmodel.RuleEntityRef, error) {
	rows, err := s.db.Query(`SELECT rule_id, entity_id FROM rule_entity_refs`)
	if err != nil {
		return nil, fmt.Errorf("alarmstore: entity rule refs: %w", err)
	}
	defer rows.Close()

	var out []alarmmodel.RuleEntityRef
	for rows.Next() {
		var idStr, entityID string
		if err := rows.Scan(&idStr, &entityID); err != nil {
			return nil, err
		}
		id, err := ulid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("alarmstore: parse rule id %q: %w", idStr, err)
		}
		out = append(out, alarmmodel.RuleEntityRef{RuleID: id, EntityID: entityID})
	}
	return out, rows.Err()
}

// Version returns the reverse-index staleness token, bumped by
// bumpReverseIndexVersion inside every transaction that mutates rules or
// rule_entity_refs.
func (s *Store) Version() (string, error) {
	var v string
	if err := s.db.QueryRow(`SELECT version FROM reverse_index_version WHERE id = 1`).Scan(&v); err != nil {
		return "", fmt.Errorf("alarmstore: reverse index version: %w", err)
	}
	return v, nil
}
