package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// taskRow 任务历史表
type taskRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Action    string    `gorm:"size:255"`
	Status    string    `gorm:"size:32;index"`
	AgentID   string    `gorm:"size:128;index"`
	Attempts  int       `gorm:"not null;default:0"`
	Errors    string    `gorm:"type:text"`
	Output    string    `gorm:"type:text"`
	Payload   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// TableName 指定表名
func (taskRow) TableName() string {
	return "agent_tasks"
}

// OpenDatabase 根据配置打开数据库连接
func OpenDatabase(cfg DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "":
		return nil, fmt.Errorf("database driver not configured")
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// sqlite 的 :memory: 每个连接都是独立数据库
	if cfg.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	logger.Info("Database connected", zap.String("driver", cfg.Driver))
	return db, nil
}

// SQLTaskStore 基于 gorm 的任务历史存储，支持 PostgreSQL、MySQL、SQLite
type SQLTaskStore struct {
	db *gorm.DB
}

// NewSQLTaskStore 包装已打开的连接并自动迁移表结构
func NewSQLTaskStore(db *gorm.DB) (*SQLTaskStore, error) {
	if err := db.AutoMigrate(&taskRow{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	return &SQLTaskStore{db: db}, nil
}

// Close 关闭底层连接
func (s *SQLTaskStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping 健康检查
func (s *SQLTaskStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// SaveTask 插入或更新任务，created_at 只在首次写入时设置
func (s *SQLTaskStore) SaveTask(ctx context.Context, task *TaskRecord) error {
	if task == nil || task.ID == "" {
		return ErrInvalidInput
	}

	row, err := toRow(task)
	if err != nil {
		return err
	}

	now := time.Now()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"action", "status", "agent_id", "attempts", "errors", "output", "payload", "updated_at",
		}),
	}).Create(row).Error
}

// GetTask 按 ID 获取任务
func (s *SQLTaskStore) GetTask(ctx context.Context, taskID string) (*TaskRecord, error) {
	var row taskRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRow(&row)
}

// ListTasks 按过滤条件列出任务
func (s *SQLTaskStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*TaskRecord, error) {
	q := s.db.WithContext(ctx).Model(&taskRow{})
	if filter.AgentID != "" {
		q = q.Where("agent_id = ?", filter.AgentID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	q = q.Order("created_at ASC").Order("id ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []taskRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]*TaskRecord, 0, len(rows))
	for i := range rows {
		rec, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func toRow(task *TaskRecord) (*taskRow, error) {
	row := &taskRow{
		ID:        task.ID,
		Action:    task.Action,
		Status:    string(task.Status),
		AgentID:   task.AgentID,
		Attempts:  task.Attempts,
		CreatedAt: task.CreatedAt,
	}

	var err error
	if row.Errors, err = encodeJSON(task.Errors); err != nil {
		return nil, fmt.Errorf("encode errors: %w", err)
	}
	if row.Output, err = encodeJSON(task.Output); err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	if row.Payload, err = encodeJSON(task.Payload); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return row, nil
}

func fromRow(row *taskRow) (*TaskRecord, error) {
	rec := &TaskRecord{
		ID:        row.ID,
		Action:    row.Action,
		Status:    TaskStatus(row.Status),
		AgentID:   row.AgentID,
		Attempts:  row.Attempts,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if err := decodeJSON(row.Errors, &rec.Errors); err != nil {
		return nil, fmt.Errorf("decode errors: %w", err)
	}
	if err := decodeJSON(row.Output, &rec.Output); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	if err := decodeJSON(row.Payload, &rec.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return rec, nil
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSON(s string, v any) error {
	if s == "" || s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
