package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/GowaManager/internal/domain"
	"github.com/Strob0t/GowaManager/internal/domain/instance"
)

// instanceColumns is the canonical select list for instance rows.
const instanceColumns = `id, key, name, port, status, config, gowa_version, error_message, created_at, updated_at`

// Store implements port/database.Store on the embedded database. All
// statements are prepared once at construction.
type Store struct {
	db *sql.DB

	list     *sql.Stmt
	get      *sql.Stmt
	getByKey *sql.Stmt
	insert   *sql.Stmt
	update   *sql.Stmt
	remove   *sql.Stmt
	status   *sql.Stmt
	port     *sql.Stmt
	byStatus *sql.Stmt
	ports    *sql.Stmt
}

// NewStore prepares all statements against the open database.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{db: db}

	stmts := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.list, `SELECT ` + instanceColumns + ` FROM instances ORDER BY created_at DESC, id DESC`},
		{&s.get, `SELECT ` + instanceColumns + ` FROM instances WHERE id = ?`},
		{&s.getByKey, `SELECT ` + instanceColumns + ` FROM instances WHERE key = ?`},
		{&s.insert, `INSERT INTO instances (key, name, port, status, config, gowa_version, error_message, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`},
		{&s.update, `UPDATE instances SET name = ?, config = ?, gowa_version = ?, updated_at = ? WHERE id = ?`},
		{&s.remove, `DELETE FROM instances WHERE id = ?`},
		{&s.status, `UPDATE instances SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`},
		{&s.port, `UPDATE instances SET port = ?, updated_at = ? WHERE id = ?`},
		{&s.byStatus, `SELECT ` + instanceColumns + ` FROM instances WHERE status = ? ORDER BY created_at DESC, id DESC`},
		{&s.ports, `SELECT port FROM instances WHERE port IS NOT NULL`},
	}

	for _, p := range stmts {
		stmt, err := db.PrepareContext(ctx, p.query)
		if err != nil {
			s.closeStmts()
			return nil, fmt.Errorf("prepare %q: %w", p.query, err)
		}
		*p.dst = stmt
	}

	return s, nil
}

// ListInstances returns all instances ordered newest first.
func (s *Store) ListInstances(ctx context.Context) ([]instance.Instance, error) {
	rows, err := s.list.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanInstances(rows)
}

// GetInstance returns one instance by id.
func (s *Store) GetInstance(ctx context.Context, id int64) (*instance.Instance, error) {
	inst, err := scanInstance(s.get.QueryRowContext(ctx, id))
	if err != nil {
		return nil, fmt.Errorf("get instance %d: %w", id, err)
	}
	return inst, nil
}

// GetInstanceByKey returns one instance by its slug.
func (s *Store) GetInstanceByKey(ctx context.Context, key string) (*instance.Instance, error) {
	inst, err := scanInstance(s.getByKey.QueryRowContext(ctx, key))
	if err != nil {
		return nil, fmt.Errorf("get instance %s: %w", key, err)
	}
	return inst, nil
}

// CreateInstance persists the row and fills ID and timestamps.
func (s *Store) CreateInstance(ctx context.Context, inst *instance.Instance) error {
	cfg, err := json.Marshal(inst.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.insert.ExecContext(ctx,
		inst.Key, inst.Name, nullablePort(inst.Port), string(inst.Status), string(cfg),
		inst.GowaVersion, nullableString(inst.ErrorMessage),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return wrapConstraint(fmt.Errorf("insert instance: %w", err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	inst.ID = id
	inst.CreatedAt = now
	inst.UpdatedAt = now
	return nil
}

// UpdateInstance rewrites name, config and gowa_version.
func (s *Store) UpdateInstance(ctx context.Context, inst *instance.Instance) error {
	cfg, err := json.Marshal(inst.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.update.ExecContext(ctx, inst.Name, string(cfg), inst.GowaVersion,
		now.Format(time.RFC3339Nano), inst.ID)
	if err != nil {
		return wrapConstraint(fmt.Errorf("update instance %d: %w", inst.ID, err))
	}
	if err := requireRow(res); err != nil {
		return err
	}
	inst.UpdatedAt = now
	return nil
}

// DeleteInstance removes the row.
func (s *Store) DeleteInstance(ctx context.Context, id int64) error {
	res, err := s.remove.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("delete instance %d: %w", id, err)
	}
	return requireRow(res)
}

// UpdateStatus writes status and error_message together.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status instance.Status, errMsg *string) error {
	res, err := s.status.ExecContext(ctx, string(status), nullableString(errMsg),
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update status %d: %w", id, err)
	}
	return requireRow(res)
}

// UpdatePort persists a newly allocated port.
func (s *Store) UpdatePort(ctx context.Context, id int64, port int) error {
	res, err := s.port.ExecContext(ctx, port, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update port %d: %w", id, err)
	}
	return requireRow(res)
}

// ListByStatus returns instances in the given persisted state.
func (s *Store) ListByStatus(ctx context.Context, status instance.Status) ([]instance.Instance, error) {
	rows, err := s.byStatus.QueryContext(ctx, string(status))
	if err != nil {
		return nil, fmt.Errorf("list by status %s: %w", status, err)
	}
	defer func() { _ = rows.Close() }()
	return scanInstances(rows)
}

// AllocatedPorts returns every non-null persisted port.
func (s *Store) AllocatedPorts(ctx context.Context) ([]int, error) {
	rows, err := s.ports.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan port: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close releases prepared statements and the database handle.
func (s *Store) Close() error {
	s.closeStmts()
	return s.db.Close()
}

func (s *Store) closeStmts() {
	for _, st := range []*sql.Stmt{s.list, s.get, s.getByKey, s.insert, s.update,
		s.remove, s.status, s.port, s.byStatus, s.ports} {
		if st != nil {
			_ = st.Close()
		}
	}
}

// ---------------------------------------------------------------------------
// Row mapping
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*instance.Instance, error) {
	var (
		inst      instance.Instance
		port      sql.NullInt64
		cfg       string
		errMsg    sql.NullString
		createdAt string
		updatedAt string
	)

	err := row.Scan(&inst.ID, &inst.Key, &inst.Name, &port, &inst.Status, &cfg,
		&inst.GowaVersion, &errMsg, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if port.Valid {
		p := int(port.Int64)
		inst.Port = &p
	}
	if errMsg.Valid {
		inst.ErrorMessage = &errMsg.String
	}
	if err := json.Unmarshal([]byte(cfg), &inst.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if inst.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if inst.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &inst, nil
}

func scanInstances(rows *sql.Rows) ([]instance.Instance, error) {
	var out []instance.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func nullablePort(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// requireRow maps zero affected rows to domain.ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// wrapConstraint maps UNIQUE violations to domain.ErrConflict.
func wrapConstraint(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	return err
}
