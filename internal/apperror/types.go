// Package apperror turns raw install, dev-server and in-page output into
// typed, deduplicated application errors.
package apperror

import (
	"fmt"
	"time"
)

// Category is the error taxonomy
type Category string

const (
	CategoryCompilation Category = "compilation"
	CategoryRuntime     Category = "runtime"
	CategoryInstall     Category = "install"
)

// Source is the stage that produced an error
type Source string

const (
	SourceDevProcess     Source = "dev-process"
	SourceRuntimeMessage Source = "sandbox-runtime-message"
	SourceInstall        Source = "install-process"
)

// AppError is a classified error shown to the user
type AppError struct {
	ID            string    `json:"id"`
	DedupKey      string    `json:"dedup_key"`
	Summary       string    `json:"summary"`
	Detail        string    `json:"detail"`
	FilePath      string    `json:"file_path,omitempty"`
	Category      Category  `json:"category"`
	Source        Source    `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
	IsModelCaused bool      `json:"is_model_caused"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Category, e.Summary)
}

// Actionable reports whether the model can plausibly repair the error
func (e *AppError) Actionable() bool {
	switch e.Category {
	case CategoryCompilation, CategoryRuntime, CategoryInstall:
		return true
	}
	return false
}

// Limits bound the extracted text
type Limits struct {
	Summary int `yaml:"summary" json:"summary"`
	Detail  int `yaml:"detail" json:"detail"`
	Key     int `yaml:"key" json:"key"`
}

// DefaultLimits returns the standard text bounds
func DefaultLimits() Limits {
	return Limits{Summary: 200, Detail: 500, Key: 120}
}

func (l Limits) orDefault() Limits {
	d := DefaultLimits()
	if l.Summary <= 0 {
		l.Summary = d.Summary
	}
	if l.Detail <= 0 {
		l.Detail = d.Detail
	}
	if l.Key <= 0 {
		l.Key = d.Key
	}
	return l
}
