// Package apps implements the app registry: the installed-app set, live
// instance binding, outbound message routing, and per-app energy metering
// with rolling windows.
package apps

import (
	"context"
	"errors"

	"github.com/cortexd/cortexd/pkg/models"
)

// AppInstance is a live, message-receiving app bound to an installed app ID.
// In-process apps implement it directly; HTTP and MCP apps are wrapped by
// adapters in this package.
type AppInstance interface {
	ID() string
	ReceiveMessage(ctx context.Context, msg *models.AppMessage) error
}

var (
	// ErrRouteToLoop is returned when a message addresses the loop itself.
	// The loop pulls from apps via the store; nothing routes to it.
	ErrRouteToLoop = errors.New("cannot route message to the loop")

	// ErrNoInstance is returned when a message targets an installed app
	// that has no live instance registered.
	ErrNoInstance = errors.New("no live instance registered for app")
)
