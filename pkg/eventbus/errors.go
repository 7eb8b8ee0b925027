package eventbus

import "errors"

const (
	errorTopic Topic = Topic("__errors__")
)

// ErrShutdownTimeout is returned if calling eventbus.Shutdown(ctx) causes the context to timeout before all subscribers
// have exited
var ErrShutdownTimeout = errors.New("eventbus: context timeout or cancelled before all subscribers exited")

// OnErrorTopic is the topic on which components publish errors they recovered from, such as frames that could
// not be decoded
func OnErrorTopic() Topic {
	return errorTopic
}
