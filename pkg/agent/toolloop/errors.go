package toolloop

import "errors"

var (
	// ErrIterationLimit is set on an Outcome when the model kept calling
	// tools until MaxIterations and no final answer could be obtained.
	ErrIterationLimit = errors.New("tool iteration limit reached")

	// ErrEmptyReply means the model finished without text or tool calls.
	ErrEmptyReply = errors.New("model returned an empty reply")

	// ErrGracefulShutdown indicates the loop was interrupted by context
	// cancellation. Tool effects already applied are logged.
	ErrGracefulShutdown = errors.New("graceful shutdown requested")
)
