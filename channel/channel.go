// Package channel defines inbound integrations that turn external
// events (issue tracker webhooks, polled tickets) into runs.
package channel

import (
	"context"

	"github.com/codemender/codemender/model"
)

// RunCreator is the engine surface a channel needs to start work.
type RunCreator interface {
	StartRun(prompt string, profile model.PermissionProfile) (*model.Run, error)
}

// Channel is an inbound integration. Run blocks until ctx is done.
type Channel interface {
	Name() string
	Run(ctx context.Context) error
}
