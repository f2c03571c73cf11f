// Package models defines the persistent data model for DevOrchestra.
package models

import "time"

// TaskStatus is the lifecycle state of a generation task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is the durable record of one end-to-end generation request.
// Created when a request is accepted, mutated only by the orchestrator at
// phase boundaries, immutable once completed or failed.
type Task struct {
	ID        string     `json:"id" gorm:"primaryKey;size:80"`
	UserStory string     `json:"user_story" gorm:"type:text;not null"`
	Status    TaskStatus `json:"status" gorm:"size:20;index"`
	Result    string     `json:"result,omitempty" gorm:"type:text"`
	CreatedAt time.Time  `json:"created_at" gorm:"index"`
}
