package saga

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Workflow はSagaの種類。
type Workflow string

const (
	// WorkflowBook は部屋の予約。
	WorkflowBook Workflow = "book"
	// WorkflowRent は予約済みの部屋の賃貸確定。
	WorkflowRent Workflow = "rent"
	// WorkflowCancelBooking は予約の取り消し。
	WorkflowCancelBooking Workflow = "cancel_booking"
	// WorkflowDeleteUser はユーザーの削除と関連する部屋の後始末。
	WorkflowDeleteUser Workflow = "delete_user"
)

// Status はSaga全体の状態。
//
// started から completed, rejected, failed, inconsistent のいずれかに遷移する。
// inconsistent は修復によって repaired に、後続の操作で状態が変わっていれば
// superseded に遷移する。
type Status string

const (
	StatusStarted      Status = "started"
	StatusCompleted    Status = "completed"
	StatusRejected     Status = "rejected"
	StatusFailed       Status = "failed"
	StatusInconsistent Status = "inconsistent"
	StatusRepaired     Status = "repaired"
	StatusSuperseded   Status = "superseded"
)

// StepStatus はステップの状態。
type StepStatus string

const (
	StepExecuting StepStatus = "executing"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Payload はSagaの対象と、修復に必要な情報。
// トークンは保存しない。
type Payload struct {
	// RoomID は対象の部屋ID。
	RoomID string `json:"room_id,omitempty"`
	// UserID は補償でcanBookを書き換える対象のユーザーID。
	UserID string `json:"user_id,omitempty"`
	// CanBook は補償で書き込むべきcanBookの値。
	CanBook *bool `json:"can_book,omitempty"`
	// Role は削除対象ユーザーのロール。
	Role string `json:"role,omitempty"`
	// Reason は補償に失敗した理由。
	Reason string `json:"reason,omitempty"`
}

// Saga はSagaログの1レコード。
type Saga struct {
	ID          string     `json:"id"`
	Workflow    Workflow   `json:"workflow"`
	Subject     string     `json:"subject"`
	CurrentStep string     `json:"current_step"`
	Status      Status     `json:"status"`
	Payload     Payload    `json:"payload"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Steps       []Step     `json:"steps,omitempty"`
}

// Involves はuserIDがSagaの操作者または補償の対象であるかを返す。
func (s *Saga) Involves(userID string) bool {
	return userID != "" && (s.Subject == userID || s.Payload.UserID == userID)
}

// Step はSagaの1ステップの実行記録。
type Step struct {
	ID          string          `json:"id"`
	SagaID      string          `json:"-"`
	Name        string          `json:"name"`
	Status      StepStatus      `json:"status"`
	Result      json.RawMessage `json:"result"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// timeLayout は辞書順と時系列順が一致する固定幅のUTC表現。
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store はSQLiteに保存されるSagaログ。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open はdsnのSQLiteデータベースを開き、スキーマを適用する。
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("DB接続に失敗: %w", err)
	}
	// SQLiteへの書き込みは1接続に直列化する。:memory: でも接続間でデータが共有される。
	db.SetMaxOpenConns(1)

	if err := initSchema(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping はデータベースに到達できるかを確認する。
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

// CreateSaga はstarted状態のSagaを記録する。
func (s *Store) CreateSaga(ctx context.Context, id string, workflow Workflow, subject string, payload Payload) error {
	p, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ペイロードのエンコードに失敗: %w", err)
	}
	now := s.timestamp()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sagas (id, saga_type, subject, current_step, status, payload, started_at, updated_at)
		VALUES (?, ?, ?, '', ?, ?, ?, ?)`,
		id, string(workflow), subject, string(StatusStarted), string(p), now, now,
	)
	if err != nil {
		return fmt.Errorf("Sagaの作成に失敗: %w", err)
	}
	return nil
}

// SetCurrentStep は実行中のステップ名を記録する。
func (s *Store) SetCurrentStep(ctx context.Context, id, step string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sagas SET current_step = ?, updated_at = ? WHERE id = ?",
		step, s.timestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("Sagaステップの更新に失敗: %w", err)
	}
	return nil
}

// Finish はSagaの状態とペイロードを更新する。
// inconsistent 以外の状態では completed_at も記録する。
func (s *Store) Finish(ctx context.Context, id string, status Status, payload Payload) error {
	p, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ペイロードのエンコードに失敗: %w", err)
	}
	now := s.timestamp()
	var completedAt any
	if status != StatusInconsistent && status != StatusStarted {
		completedAt = now
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE sagas SET status = ?, payload = ?, updated_at = ?, completed_at = ? WHERE id = ?",
		string(status), string(p), now, completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("Sagaの状態更新に失敗: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSagaNotFound
	}
	return nil
}

// CreateStep はexecuting状態のステップを記録する。
func (s *Store) CreateStep(ctx context.Context, id, sagaID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saga_steps (id, saga_id, step_name, status, result, started_at)
		VALUES (?, ?, ?, ?, '{}', ?)`,
		id, sagaID, name, string(StepExecuting), s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("ステップの記録に失敗: %w", err)
	}
	return nil
}

// UpdateStepStatus はステップの結果を記録する。
func (s *Store) UpdateStepStatus(ctx context.Context, id string, status StepStatus, result any) error {
	r, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("ステップ結果のエンコードに失敗: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE saga_steps SET status = ?, result = ?, completed_at = ? WHERE id = ?",
		string(status), string(r), s.timestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("ステップの更新に失敗: %w", err)
	}
	return nil
}

// Get はステップ履歴を含むSagaを返す。存在しない場合はErrSagaNotFound。
func (s *Store) Get(ctx context.Context, id string) (*Saga, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, saga_type, subject, current_step, status, payload, started_at, updated_at, completed_at
		FROM sagas WHERE id = ?`, id)
	saga, err := scanSaga(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSagaNotFound
	}
	if err != nil {
		return nil, err
	}

	steps, err := s.listSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	saga.Steps = steps
	return saga, nil
}

// ListByStatus は指定した状態のSagaを開始日時の古い順に返す。ステップ履歴は含まない。
func (s *Store) ListByStatus(ctx context.Context, status Status) ([]Saga, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, saga_type, subject, current_step, status, payload, started_at, updated_at, completed_at
		FROM sagas WHERE status = ? ORDER BY started_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("Saga一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sagas := []Saga{}
	for rows.Next() {
		saga, err := scanSaga(rows)
		if err != nil {
			return nil, err
		}
		sagas = append(sagas, *saga)
	}
	return sagas, rows.Err()
}

// CountByStatus は指定した状態のSagaの件数を返す。
func (s *Store) CountByStatus(ctx context.Context, status Status) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sagas WHERE status = ?", string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("Saga件数の取得に失敗: %w", err)
	}
	return n, nil
}

func (s *Store) listSteps(ctx context.Context, sagaID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, saga_id, step_name, status, result, started_at, completed_at
		FROM saga_steps WHERE saga_id = ? ORDER BY started_at, rowid`, sagaID)
	if err != nil {
		return nil, fmt.Errorf("ステップ履歴の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	steps := []Step{}
	for rows.Next() {
		var (
			st          Step
			status      string
			result      string
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&st.ID, &st.SagaID, &st.Name, &status, &result, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("ステップの読み取りに失敗: %w", err)
		}
		st.Status = StepStatus(status)
		st.Result = json.RawMessage(result)
		if st.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("started_atの解析に失敗: %w", err)
		}
		if st.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSaga(row scanner) (*Saga, error) {
	var (
		saga        Saga
		workflow    string
		status      string
		payload     string
		startedAt   string
		updatedAt   string
		completedAt sql.NullString
	)
	if err := row.Scan(&saga.ID, &workflow, &saga.Subject, &saga.CurrentStep, &status, &payload, &startedAt, &updatedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("Sagaの読み取りに失敗: %w", err)
	}
	saga.Workflow = Workflow(workflow)
	saga.Status = Status(status)
	if err := json.Unmarshal([]byte(payload), &saga.Payload); err != nil {
		return nil, fmt.Errorf("ペイロードの解析に失敗: %w", err)
	}

	var err error
	if saga.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return nil, fmt.Errorf("started_atの解析に失敗: %w", err)
	}
	if saga.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("updated_atの解析に失敗: %w", err)
	}
	if saga.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	return &saga, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return nil, fmt.Errorf("日時の解析に失敗: %w", err)
	}
	return &t, nil
}
