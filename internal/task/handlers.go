package task

import (
	"context"
	"encoding/json"

	"github.com/phrazzld/task-inbox/internal/domain"
)

// TypeEcho is the task type served by Echo.
const TypeEcho = "echo"

// Echo completes every task with its own payload as the result. The server
// registers it so a deployment can be smoke tested end to end.
func Echo() Handler {
	return HandlerFunc(func(_ context.Context, task *domain.Task) (json.RawMessage, error) {
		return task.Payload, nil
	})
}

// RegisterBuiltins installs the built-in handlers on r.
func RegisterBuiltins(r *Runner) {
	r.Register(TypeEcho, Echo())
}
