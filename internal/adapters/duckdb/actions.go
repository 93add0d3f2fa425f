package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
)

// Store is the DuckDB-backed draft-action store. Every mutating operation is
// a single statement (or one transaction), so per-id updates are atomic and
// concurrent approvals racing on the same id resolve to one winner.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ ports.ActionStore = (*Store)(nil)

// NewStore opens (or creates) the database at path and ensures the schema.
func NewStore(logger *slog.Logger, path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// DuckDB rewrites the primary-key index on every UPDATE, and concurrent
	// updates of the same row from separate pooled connections surface as
	// spurious duplicate-key constraint errors. The database is embedded and
	// single-process, so one connection serializes all statements.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS actions (
			id          VARCHAR PRIMARY KEY,
			agent       VARCHAR NOT NULL,
			action_type VARCHAR NOT NULL,
			description VARCHAR NOT NULL,
			params      VARCHAR NOT NULL,
			status      VARCHAR NOT NULL DEFAULT 'pending',
			created_at  TIMESTAMP NOT NULL,
			modified_at TIMESTAMP,
			executed_at TIMESTAMP,
			result      VARCHAR
		)`)
	if err != nil {
		return fmt.Errorf("create actions table: %w", err)
	}

	for _, idx := range []string{
		`CREATE INDEX IF NOT EXISTS idx_actions_status ON actions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_agent ON actions(agent)`,
	} {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Add inserts the action in pending status, whatever status it carried.
func (s *Store) Add(ctx context.Context, action domain.DraftAction) (domain.ActionID, error) {
	if action.ID == "" {
		action.ID = domain.NewActionID()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}

	paramsJSON, err := json.Marshal(action.Params)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO actions (id, agent, action_type, description, params, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(action.ID),
		action.Agent,
		action.ActionType,
		action.Description,
		string(paramsJSON),
		string(domain.ActionPending),
		action.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return "", fmt.Errorf("action %s: %w", action.ID, domain.ErrDuplicateActionID)
		}
		return "", fmt.Errorf("insert action: %w", err)
	}
	return action.ID, nil
}

// Get retrieves an action by id.
func (s *Store) Get(ctx context.Context, id domain.ActionID) (domain.DraftAction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent, action_type, description, params, status,
		       created_at, modified_at, executed_at, result
		FROM actions WHERE id = ?`, string(id))

	action, err := scanAction(row)
	if err == sql.ErrNoRows {
		return domain.DraftAction{}, fmt.Errorf("action %s: %w", id, domain.ErrActionNotFound)
	}
	if err != nil {
		return domain.DraftAction{}, err
	}
	return action, nil
}

// ListByStatus returns actions in the given status, most recent first.
func (s *Store) ListByStatus(ctx context.Context, status domain.ActionStatus) ([]domain.DraftAction, error) {
	return s.list(ctx, `
		SELECT id, agent, action_type, description, params, status,
		       created_at, modified_at, executed_at, result
		FROM actions WHERE status = ?
		ORDER BY created_at DESC`, string(status))
}

// ListByAgent returns all actions owned by the agent, most recent first.
func (s *Store) ListByAgent(ctx context.Context, agent string) ([]domain.DraftAction, error) {
	return s.list(ctx, `
		SELECT id, agent, action_type, description, params, status,
		       created_at, modified_at, executed_at, result
		FROM actions WHERE agent = ?
		ORDER BY created_at DESC`, agent)
}

func (s *Store) list(ctx context.Context, query string, arg interface{}) ([]domain.DraftAction, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	out := []domain.DraftAction{}
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, action)
	}
	return out, rows.Err()
}

// SetStatus updates the status unconditionally. The executed timestamp is
// written only when entering completed/failed, and the result column keeps
// its first non-null value.
func (s *Store) SetStatus(ctx context.Context, id domain.ActionID, status domain.ActionStatus, result *string) (bool, error) {
	now := time.Now().UTC()
	var executedAt *time.Time
	if status == domain.ActionCompleted || status == domain.ActionFailed {
		executedAt = &now
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE actions
		SET status = ?,
		    modified_at = ?,
		    executed_at = COALESCE(executed_at, ?),
		    result = COALESCE(result, ?)
		WHERE id = ?`,
		string(status), now, executedAt, result, string(id))
	if err != nil {
		return false, fmt.Errorf("set status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Transition atomically moves status from→to; the conditional UPDATE is what
// guarantees that two approvals racing on one id produce a single winner.
func (s *Store) Transition(ctx context.Context, id domain.ActionID, from, to domain.ActionStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE actions SET status = ?, modified_at = ?
		WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), string(id), string(from))
	if err != nil {
		return false, fmt.Errorf("transition status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Modify shallow-merges the patch into the stored parameters (last write wins
// per key), optionally replaces the description, and forces status to
// modified so the action needs re-approval. Only pending and modified rows
// are patched; for any other state nothing changes and false is returned.
func (s *Store) Modify(ctx context.Context, id domain.ActionID, description *string, patch map[string]interface{}) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var curDescription, curParams string
	err = tx.QueryRowContext(ctx,
		`SELECT description, params FROM actions WHERE id = ?`, string(id)).
		Scan(&curDescription, &curParams)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read action for modify: %w", err)
	}

	params := map[string]interface{}{}
	if err := json.Unmarshal([]byte(curParams), &params); err != nil {
		return false, &domain.CorruptionError{ID: id, Err: err}
	}
	for k, v := range patch {
		params[k] = v
	}
	merged, err := json.Marshal(params)
	if err != nil {
		return false, fmt.Errorf("marshal merged params: %w", err)
	}

	newDescription := curDescription
	if description != nil {
		newDescription = *description
	}

	// Only actions still awaiting review may be patched; a row that moved on
	// (approved, executing, or terminal) is left untouched.
	res, err := tx.ExecContext(ctx, `
		UPDATE actions SET description = ?, params = ?, status = ?, modified_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		newDescription, string(merged), string(domain.ActionModified), time.Now().UTC(), string(id),
		string(domain.ActionPending), string(domain.ActionModified))
	if err != nil {
		return false, fmt.Errorf("update action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update action: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit modify: %w", err)
	}
	return n > 0, nil
}

// Delete removes the record.
func (s *Store) Delete(ctx context.Context, id domain.ActionID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM actions WHERE id = ?`, string(id))
	if err != nil {
		return false, fmt.Errorf("delete action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearTerminal removes all completed/failed/rejected records.
func (s *Store) ClearTerminal(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM actions WHERE status IN (?, ?, ?)`,
		string(domain.ActionCompleted), string(domain.ActionFailed), string(domain.ActionRejected))
	if err != nil {
		return 0, fmt.Errorf("clear terminal actions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Summary returns per-status counts plus the total.
func (s *Store) Summary(ctx context.Context) (domain.QueueSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM actions GROUP BY status`)
	if err != nil {
		return domain.QueueSummary{}, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var sum domain.QueueSummary
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return domain.QueueSummary{}, err
		}
		switch domain.ActionStatus(status) {
		case domain.ActionPending:
			sum.Pending = count
		case domain.ActionApproved:
			sum.Approved = count
		case domain.ActionModified:
			sum.Modified = count
		case domain.ActionRejected:
			sum.Rejected = count
		case domain.ActionCompleted:
			sum.Completed = count
		case domain.ActionFailed:
			sum.Failed = count
		}
		sum.Total += count
	}
	return sum, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row scanner) (domain.DraftAction, error) {
	var a domain.DraftAction
	var idStr, statusStr, paramsJSON string
	var modifiedAt, executedAt *time.Time
	var result *string

	err := row.Scan(
		&idStr, &a.Agent, &a.ActionType, &a.Description, &paramsJSON, &statusStr,
		&a.CreatedAt, &modifiedAt, &executedAt, &result,
	)
	if err != nil {
		return domain.DraftAction{}, err
	}

	a.ID = domain.ActionID(idStr)
	a.Status = domain.ActionStatus(statusStr)
	a.ModifiedAt = modifiedAt
	a.ExecutedAt = executedAt
	a.Result = result

	if err := json.Unmarshal([]byte(paramsJSON), &a.Params); err != nil {
		return domain.DraftAction{}, &domain.CorruptionError{ID: a.ID, Err: err}
	}
	return a, nil
}

func isDuplicateKey(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "constraint")
}
