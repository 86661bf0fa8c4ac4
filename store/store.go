// Package store defines the persistence interface for runs, transcripts,
// events and the suite-healing cache.
package store

import (
	"github.com/codemender/codemender/heal"
	"github.com/codemender/codemender/model"
)

// RunStore persists runs and everything attached to them.
type RunStore interface {
	CreateRun(run *model.Run) error
	GetRun(id string) (*model.Run, error)
	ListRuns() ([]*model.Run, error)
	UpdateRun(run *model.Run) error

	AddEvent(event *model.Event) error
	GetEvents(runID string, afterID int64) ([]*model.Event, error)

	AddMessage(msg *model.Message) error
	GetMessages(runID string) ([]*model.Message, error)

	// Suite cache persistence, so healed tests survive restarts.
	PutSuiteEntry(entry heal.SuiteEntry) error
	GetSuiteEntries() ([]heal.SuiteEntry, error)
	DeleteSuiteEntry(testName string) error

	Close() error
}
