// Package store persists task records.
//
// The store is a simple keyed append/update table: the orchestrator creates a
// record when a request is accepted and touches it again only at phase
// boundaries. Postgres is used when DATABASE_URL looks like a postgres DSN;
// anything else is treated as a sqlite file path (pure-Go driver, no cgo).
package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"devorchestra/pkg/models"
)

// TaskStore is the durable task-record store.
type TaskStore struct {
	db *gorm.DB
}

// New opens the database, configures pooling and runs migrations.
func New(databaseURL string) (*TaskStore, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var (
		db  *gorm.DB
		err error
	)
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") || strings.Contains(databaseURL, "host=") {
		db, err = gorm.Open(postgres.Open(databaseURL), gormConfig)
	} else {
		db, err = gorm.Open(sqlite.Open(databaseURL), gormConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.Task{}); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return &TaskStore{db: db}, nil
}

// Add inserts a new task record.
func (s *TaskStore) Add(id, userStory string, status models.TaskStatus) error {
	task := &models.Task{
		ID:        id,
		UserStory: userStory,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Create(task).Error; err != nil {
		return fmt.Errorf("failed to add task %s: %w", id, err)
	}
	return nil
}

// Update sets the status and, when non-empty, the result document.
func (s *TaskStore) Update(id string, status models.TaskStatus, result string) error {
	updates := map[string]any{"status": status}
	if result != "" {
		updates["result"] = result
	}
	res := s.db.Model(&models.Task{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update task %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

// Get returns the task with the given id.
func (s *TaskStore) Get(id string) (*models.Task, error) {
	var task models.Task
	if err := s.db.First(&task, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("task %s not found: %w", id, err)
	}
	return &task, nil
}

// Latest returns the most recently created task, ties broken by id.
func (s *TaskStore) Latest() (*models.Task, error) {
	var task models.Task
	if err := s.db.Order("created_at DESC, id DESC").First(&task).Error; err != nil {
		return nil, fmt.Errorf("no tasks recorded: %w", err)
	}
	return &task, nil
}

// Health pings the underlying connection.
func (s *TaskStore) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close closes the database connection.
func (s *TaskStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
