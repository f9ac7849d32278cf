// Package store provides SQLite-backed persistence for the orchestration core.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vibesurf-ai/VibeSurf-sub003/internal/models"
)

// Sentinel errors surfaced by transactional operations.
var (
	// ErrStaleStatus indicates a compare-and-set transition found the row in
	// a different status than expected.
	ErrStaleStatus = fmt.Errorf("task status changed concurrently")

	// ErrDuplicateFlow indicates a schedule already exists for the flow.
	ErrDuplicateFlow = fmt.Errorf("schedule already exists for flow")

	// ErrProfileExists indicates a profile with the same type and name exists.
	ErrProfileExists = fmt.Errorf("profile already exists")
)

// Store provides access to the orchestrator SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		profile_ref TEXT,
		result TEXT,
		error_message TEXT,
		metadata TEXT,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS task_history (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		detail TEXT,
		inputs_hash TEXT,
		recorded_at DATETIME NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		flow_ref TEXT NOT NULL UNIQUE,
		cron_expression TEXT NOT NULL,
		is_enabled INTEGER NOT NULL DEFAULT 1,
		last_execution_at DATETIME,
		next_execution_at DATETIME,
		execution_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		profile_type TEXT NOT NULL,
		name TEXT NOT NULL,
		config TEXT,
		encrypted_secret TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		is_default INTEGER NOT NULL DEFAULT 0,
		last_used_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(profile_type, name)
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id, status);
	CREATE INDEX IF NOT EXISTS idx_task_history_task ON task_history(task_id);
	CREATE INDEX IF NOT EXISTS idx_schedules_next ON schedules(is_enabled, next_execution_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Task Operations ---

// CreateTask inserts a new task in pending status.
func (s *Store) CreateTask(sessionID, description, profileRef string, metadata map[string]string) (*models.Task, error) {
	now := time.Now().UTC()
	task := &models.Task{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Description: description,
		Status:      models.TaskStatusPending,
		ProfileRef:  profileRef,
		Metadata:    metadata,
		CreatedAt:   now,
	}

	var metaJSON []byte
	if len(metadata) > 0 {
		metaJSON, _ = json.Marshal(metadata)
	}

	_, err := s.db.Exec(
		`INSERT INTO tasks (id, session_id, description, status, profile_ref, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.SessionID, task.Description, task.Status, task.ProfileRef, nullString(string(metaJSON)), task.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

const taskColumns = `id, session_id, description, status, profile_ref, result, error_message, metadata, created_at, started_at, completed_at`

func scanTask(row interface{ Scan(...interface{}) error }) (*models.Task, error) {
	task := &models.Task{}
	var profileRef, result, errMsg, metaJSON sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&task.ID, &task.SessionID, &task.Description, &task.Status,
		&profileRef, &result, &errMsg, &metaJSON, &task.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if profileRef.Valid {
		task.ProfileRef = profileRef.String
	}
	if result.Valid && result.String != "" {
		task.Result = json.RawMessage(result.String)
	}
	if errMsg.Valid {
		task.ErrorMessage = errMsg.String
	}
	if metaJSON.Valid && metaJSON.String != "" {
		json.Unmarshal([]byte(metaJSON.String), &task.Metadata)
	}
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return task, nil
}

// GetTask retrieves a task by ID. Returns (nil, nil) when the task does
// not exist.
func (s *Store) GetTask(id string) (*models.Task, error) {
	task, err := scanTask(s.db.QueryRow(
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return task, nil
}

// ListTasks returns tasks, optionally filtered by status and session.
func (s *Store) ListTasks(status, sessionID string) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var conds []string
	var args []interface{}

	if status != "" {
		conds = append(conds, `status = ?`)
		args = append(args, status)
	}
	if sessionID != "" {
		conds = append(conds, `session_id = ?`)
		args = append(args, sessionID)
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// ActiveTaskForSession returns the running or paused task for a session,
// or (nil, nil) when the session has none.
func (s *Store) ActiveTaskForSession(sessionID string) (*models.Task, error) {
	task, err := scanTask(s.db.QueryRow(
		`SELECT `+taskColumns+` FROM tasks WHERE session_id = ? AND status IN (?, ?) LIMIT 1`,
		sessionID, models.TaskStatusRunning, models.TaskStatusPaused,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active task: %w", err)
	}
	return task, nil
}

// HasOpenTaskForSession reports whether the session has any non-terminal task.
func (s *Store) HasOpenTaskForSession(sessionID string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM tasks WHERE session_id = ? AND status IN (?, ?, ?)`,
		sessionID, models.TaskStatusPending, models.TaskStatusRunning, models.TaskStatusPaused,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count open tasks: %w", err)
	}
	return n > 0, nil
}

// NextPendingForSession returns the oldest pending task for a session,
// or (nil, nil) when there is none.
func (s *Store) NextPendingForSession(sessionID string) (*models.Task, error) {
	task, err := scanTask(s.db.QueryRow(
		`SELECT `+taskColumns+` FROM tasks WHERE session_id = ? AND status = ? ORDER BY created_at ASC LIMIT 1`,
		sessionID, models.TaskStatusPending,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query pending task: %w", err)
	}
	return task, nil
}

// PendingSessions returns the distinct session IDs that have pending tasks.
func (s *Store) PendingSessions() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT session_id FROM tasks WHERE status = ?`, models.TaskStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending sessions: %w", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, id)
	}
	return sessions, rows.Err()
}

// TransitionUpdate carries the optional fields written alongside a
// status transition.
type TransitionUpdate struct {
	Result       json.RawMessage
	ErrorMessage string
	Detail       string
	InputsHash   string
}

// TransitionTask atomically moves a task from one status to another and
// appends the history entry in the same transaction. The update only applies
// while the row is still in the expected status; otherwise ErrStaleStatus is
// returned and nothing is persisted. started_at is stamped on the first
// transition out of pending, completed_at when the target is terminal.
func (s *Store) TransitionTask(id string, from, to models.TaskStatus, upd TransitionUpdate) (*models.Task, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	set := []string{`status = ?`}
	args := []interface{}{to}

	if from == models.TaskStatusPending {
		set = append(set, `started_at = COALESCE(started_at, ?)`)
		args = append(args, now)
	}
	if to.Terminal() {
		set = append(set, `completed_at = ?`)
		args = append(args, now)
	}
	if upd.Result != nil {
		set = append(set, `result = ?`)
		args = append(args, string(upd.Result))
	}
	if upd.ErrorMessage != "" {
		set = append(set, `error_message = ?`)
		args = append(args, upd.ErrorMessage)
	}
	args = append(args, id, from)

	result, err := tx.Exec(
		`UPDATE tasks SET `+strings.Join(set, `, `)+` WHERE id = ? AND status = ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("update task status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrStaleStatus
	}

	_, err = tx.Exec(
		`INSERT INTO task_history (id, task_id, from_status, to_status, detail, inputs_hash, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), id, from, to, nullString(upd.Detail), nullString(upd.InputsHash), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return s.GetTask(id)
}

// GetTaskHistory returns the append-only transition history for a task,
// oldest first.
func (s *Store) GetTaskHistory(taskID string) ([]models.TaskTransition, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, from_status, to_status, detail, inputs_hash, recorded_at FROM task_history WHERE task_id = ? ORDER BY recorded_at ASC, id ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []models.TaskTransition
	for rows.Next() {
		var e models.TaskTransition
		var detail, hash sql.NullString
		if err := rows.Scan(&e.ID, &e.TaskID, &e.FromStatus, &e.ToStatus, &detail, &hash, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		if hash.Valid {
			e.InputsHash = hash.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Schedule Operations ---

// CreateSchedule inserts a new schedule. The flow reference must be unique;
// ErrDuplicateFlow is returned otherwise.
func (s *Store) CreateSchedule(flowRef, cronExpr string, enabled bool, next *time.Time) (*models.Schedule, error) {
	now := time.Now().UTC()
	sched := &models.Schedule{
		ID:              uuid.New().String(),
		FlowRef:         flowRef,
		CronExpression:  cronExpr,
		IsEnabled:       enabled,
		NextExecutionAt: next,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err := s.db.Exec(
		`INSERT INTO schedules (id, flow_ref, cron_expression, is_enabled, next_execution_at, execution_count, created_at, updated_at) VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		sched.ID, sched.FlowRef, sched.CronExpression, boolInt(enabled), nullTime(next), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateFlow
		}
		return nil, fmt.Errorf("insert schedule: %w", err)
	}
	return sched, nil
}

const scheduleColumns = `id, flow_ref, cron_expression, is_enabled, last_execution_at, next_execution_at, execution_count, last_error, created_at, updated_at`

func scanSchedule(row interface{ Scan(...interface{}) error }) (*models.Schedule, error) {
	sched := &models.Schedule{}
	var enabled int
	var lastAt, nextAt sql.NullTime
	var lastErr sql.NullString

	err := row.Scan(&sched.ID, &sched.FlowRef, &sched.CronExpression, &enabled,
		&lastAt, &nextAt, &sched.ExecutionCount, &lastErr, &sched.CreatedAt, &sched.UpdatedAt)
	if err != nil {
		return nil, err
	}

	sched.IsEnabled = enabled != 0
	if lastAt.Valid {
		sched.LastExecutionAt = &lastAt.Time
	}
	if nextAt.Valid {
		sched.NextExecutionAt = &nextAt.Time
	}
	if lastErr.Valid {
		sched.LastError = lastErr.String
	}
	return sched, nil
}

// GetSchedule retrieves a schedule by ID. Returns (nil, nil) when missing.
func (s *Store) GetSchedule(id string) (*models.Schedule, error) {
	sched, err := scanSchedule(s.db.QueryRow(
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query schedule: %w", err)
	}
	return sched, nil
}

// GetScheduleByFlow retrieves the schedule bound to a flow reference.
// Returns (nil, nil) when missing.
func (s *Store) GetScheduleByFlow(flowRef string) (*models.Schedule, error) {
	sched, err := scanSchedule(s.db.QueryRow(
		`SELECT `+scheduleColumns+` FROM schedules WHERE flow_ref = ?`, flowRef,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query schedule by flow: %w", err)
	}
	return sched, nil
}

// ListSchedules returns all schedules, optionally only enabled ones.
func (s *Store) ListSchedules(enabledOnly bool) ([]models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	if enabledOnly {
		query += ` WHERE is_enabled = 1`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []models.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *sched)
	}
	return schedules, rows.Err()
}

// DueSchedules returns enabled schedules whose next fire time has elapsed.
func (s *Store) DueSchedules(now time.Time) ([]models.Schedule, error) {
	rows, err := s.db.Query(
		`SELECT `+scheduleColumns+` FROM schedules WHERE is_enabled = 1 AND next_execution_at IS NOT NULL AND next_execution_at <= ? ORDER BY next_execution_at ASC`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []models.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *sched)
	}
	return schedules, rows.Err()
}

// MarkScheduleFired records a successful fire: stamps last_execution_at,
// increments the execution count, advances the next fire time and clears
// any previous skip cause.
func (s *Store) MarkScheduleFired(id string, firedAt, next time.Time) error {
	_, err := s.db.Exec(
		`UPDATE schedules SET last_execution_at = ?, next_execution_at = ?, execution_count = execution_count + 1, last_error = NULL, updated_at = ? WHERE id = ?`,
		firedAt.UTC(), next.UTC(), time.Now().UTC(), id,
	)
	return err
}

// MarkScheduleSkipped records a skipped fire: advances the next fire time
// without touching the execution count, and stores the cause.
func (s *Store) MarkScheduleSkipped(id string, next time.Time, cause string) error {
	_, err := s.db.Exec(
		`UPDATE schedules SET next_execution_at = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		next.UTC(), cause, time.Now().UTC(), id,
	)
	return err
}

// SetScheduleEnabled toggles a schedule. Disabling clears the next fire
// time; enabling stores the freshly computed one supplied by the caller.
func (s *Store) SetScheduleEnabled(id string, enabled bool, next *time.Time) error {
	_, err := s.db.Exec(
		`UPDATE schedules SET is_enabled = ?, next_execution_at = ?, updated_at = ? WHERE id = ?`,
		boolInt(enabled), nullTime(next), time.Now().UTC(), id,
	)
	return err
}

// UpdateScheduleNext replaces the next fire time (startup recovery).
func (s *Store) UpdateScheduleNext(id string, next *time.Time) error {
	_, err := s.db.Exec(
		`UPDATE schedules SET next_execution_at = ?, updated_at = ? WHERE id = ?`,
		nullTime(next), time.Now().UTC(), id,
	)
	return err
}

// DeleteSchedule removes a schedule.
func (s *Store) DeleteSchedule(id string) error {
	_, err := s.db.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	return err
}

// --- Profile Operations ---

// CreateProfile inserts a new profile. When the profile is marked default,
// the default flag is cleared on every other profile of the same type in
// the same transaction.
func (s *Store) CreateProfile(p *models.Profile) (*models.Profile, error) {
	now := time.Now().UTC()
	p.ID = uuid.New().String()
	p.CreatedAt = now
	p.UpdatedAt = now

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if p.IsDefault {
		if _, err := tx.Exec(
			`UPDATE profiles SET is_default = 0, updated_at = ? WHERE profile_type = ?`,
			now, p.Type,
		); err != nil {
			return nil, fmt.Errorf("clear defaults: %w", err)
		}
	}

	var config []byte
	if p.Config != nil {
		config = p.Config
	}

	_, err = tx.Exec(
		`INSERT INTO profiles (id, profile_type, name, config, encrypted_secret, is_active, is_default, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Type, p.Name, nullString(string(config)), nullString(p.EncryptedSecret),
		boolInt(p.IsActive), boolInt(p.IsDefault), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrProfileExists
		}
		return nil, fmt.Errorf("insert profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return p, nil
}

const profileColumns = `id, profile_type, name, config, encrypted_secret, is_active, is_default, last_used_at, created_at, updated_at`

func scanProfile(row interface{ Scan(...interface{}) error }) (*models.Profile, error) {
	p := &models.Profile{}
	var config, secret sql.NullString
	var active, def int
	var lastUsed sql.NullTime

	err := row.Scan(&p.ID, &p.Type, &p.Name, &config, &secret, &active, &def, &lastUsed, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if config.Valid && config.String != "" {
		p.Config = json.RawMessage(config.String)
	}
	if secret.Valid {
		p.EncryptedSecret = secret.String
	}
	p.IsActive = active != 0
	p.IsDefault = def != 0
	if lastUsed.Valid {
		p.LastUsedAt = &lastUsed.Time
	}
	return p, nil
}

// GetProfile retrieves a profile by type and name. Returns (nil, nil)
// when missing.
func (s *Store) GetProfile(ptype models.ProfileType, name string) (*models.Profile, error) {
	p, err := scanProfile(s.db.QueryRow(
		`SELECT `+profileColumns+` FROM profiles WHERE profile_type = ? AND name = ?`,
		ptype, name,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	return p, nil
}

// ListProfiles returns profiles, optionally filtered by type and activity.
func (s *Store) ListProfiles(ptype models.ProfileType, activeOnly bool) ([]models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles`
	var conds []string
	var args []interface{}

	if ptype != "" {
		conds = append(conds, `profile_type = ?`)
		args = append(args, ptype)
	}
	if activeOnly {
		conds = append(conds, `is_active = 1`)
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	query += ` ORDER BY profile_type ASC, name ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// GetDefaultProfile returns the default active profile for a type, or
// (nil, nil) when none is marked default.
func (s *Store) GetDefaultProfile(ptype models.ProfileType) (*models.Profile, error) {
	p, err := scanProfile(s.db.QueryRow(
		`SELECT `+profileColumns+` FROM profiles WHERE profile_type = ? AND is_default = 1 AND is_active = 1 LIMIT 1`,
		ptype,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query default profile: %w", err)
	}
	return p, nil
}

// UpdateProfile replaces the mutable fields of a profile identified by
// type and name. Returns (nil, nil) when the profile does not exist.
func (s *Store) UpdateProfile(ptype models.ProfileType, name string, config json.RawMessage, encryptedSecret string, isActive bool) (*models.Profile, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`UPDATE profiles SET config = ?, encrypted_secret = ?, is_active = ?, updated_at = ? WHERE profile_type = ? AND name = ?`,
		nullString(string(config)), nullString(encryptedSecret), boolInt(isActive), now, ptype, name,
	)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}
	return s.GetProfile(ptype, name)
}

// SetDefaultProfile marks one profile of a type as default and clears the
// flag on all others of that type in a single transaction. Returns
// (nil, nil) when the named profile does not exist or is inactive.
func (s *Store) SetDefaultProfile(ptype models.ProfileType, name string) (*models.Profile, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	if _, err := tx.Exec(
		`UPDATE profiles SET is_default = 0, updated_at = ? WHERE profile_type = ? AND is_default = 1`,
		now, ptype,
	); err != nil {
		return nil, fmt.Errorf("clear defaults: %w", err)
	}

	result, err := tx.Exec(
		`UPDATE profiles SET is_default = 1, updated_at = ? WHERE profile_type = ? AND name = ? AND is_active = 1`,
		now, ptype, name,
	)
	if err != nil {
		return nil, fmt.Errorf("set default: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		// Nothing to promote; roll back so the old default survives.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return s.GetProfile(ptype, name)
}

// TouchProfileUsed stamps last_used_at on each use.
func (s *Store) TouchProfileUsed(id string) error {
	_, err := s.db.Exec(
		`UPDATE profiles SET last_used_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	return err
}

// DeleteProfile removes a profile by type and name.
func (s *Store) DeleteProfile(ptype models.ProfileType, name string) error {
	_, err := s.db.Exec(`DELETE FROM profiles WHERE profile_type = ? AND name = ?`, ptype, name)
	return err
}

// --- helpers ---

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "unique constraint"))
}
