package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type ImportJobStatus string

const (
	ImportJobQueued     ImportJobStatus = "queued"
	ImportJobProcessing ImportJobStatus = "processing"
	ImportJobCompleted  ImportJobStatus = "completed"
	ImportJobFailed     ImportJobStatus = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s ImportJobStatus) Terminal() bool {
	return s == ImportJobCompleted || s == ImportJobFailed
}

// RowError addresses a problem in an imported file. Row 0 means the file as a
// whole; data rows are numbered from 2 because the header is row 1.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// ImportJobResult is the persisted outcome of a processed file.
type ImportJobResult struct {
	TotalRows         int        `json:"total_rows"`
	ValidRows         int        `json:"valid_rows"`
	Errors            []RowError `json:"errors"`
	Warnings          []RowError `json:"warnings"`
	Created           []string   `json:"created"`
	Updated           []string   `json:"updated"`
	Deactivated       []string   `json:"deactivated"`
	PoliciesCreated   int        `json:"policies_created"`
	PoliciesRepriced  int        `json:"policies_repriced"`
	PoliciesCancelled int        `json:"policies_cancelled"`
}

// Value implements driver.Valuer
func (r ImportJobResult) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (r *ImportJobResult) Scan(value interface{}) error {
	if value == nil {
		*r = ImportJobResult{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("failed to scan ImportJobResult")
	}
	return json.Unmarshal(raw, r)
}

// ImportJob tracks one uploaded roster through the queue. Content is held only
// until processing finishes plus a grace delay and is never serialised.
type ImportJob struct {
	JobID        string           `gorm:"primaryKey;type:varchar(36)" json:"job_id"`
	Sequence     int64            `gorm:"not null;index" json:"-"`
	SessionID    string           `gorm:"type:varchar(120);index" json:"session_id"`
	Filename     string           `gorm:"type:varchar(255);not null" json:"filename"`
	UploadedBy   string           `gorm:"type:varchar(120);not null" json:"uploaded_by"`
	Status       ImportJobStatus  `gorm:"type:varchar(20);not null;index" json:"status"`
	Progress     int              `gorm:"not null;default:0" json:"progress"`
	Result       *ImportJobResult `gorm:"type:text" json:"result,omitempty"`
	ErrorMessage string           `gorm:"type:text" json:"error_message,omitempty"`
	Content      string           `gorm:"type:text" json:"-"`
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

func (ImportJob) TableName() string {
	return "import_jobs"
}

// ImportJobView is the content-free read model handed out by the queue.
type ImportJobView struct {
	JobID        string           `json:"job_id"`
	Filename     string           `json:"filename"`
	UploadedBy   string           `json:"uploaded_by"`
	Status       ImportJobStatus  `json:"status"`
	Progress     int              `json:"progress"`
	Result       *ImportJobResult `json:"result,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

// View strips the raw content.
func (j *ImportJob) View() ImportJobView {
	return ImportJobView{
		JobID:        j.JobID,
		Filename:     j.Filename,
		UploadedBy:   j.UploadedBy,
		Status:       j.Status,
		Progress:     j.Progress,
		Result:       j.Result,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
}
