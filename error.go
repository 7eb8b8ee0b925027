package critforce

import (
	"os"

	"github.com/stvp/rollbar"
)

// SuppressErrorReporting is a global flag to prevent the client from sending unexpected errors to Rollbar.
// Data is anonymous and consists only of the error and a stack trace.
var SuppressErrorReporting bool

// ErrorReporter forwards errors the client did not expect to a crash reporting service
type ErrorReporter interface {
	ReportError(err error)
}

type errorService struct{}

func init() {
	switch env := os.Getenv("CRITFORCE_ENV"); env {
	case "development":
		rollbar.Environment = "development"
	default:
		rollbar.Environment = "production"
	}
	rollbar.Token = os.Getenv("CRITFORCE_ROLLBAR_TOKEN")
}

// ReportError sends the error to Rollbar unless reporting is suppressed or no token is configured
func (e errorService) ReportError(err error) {
	if err == nil || SuppressErrorReporting || rollbar.Token == "" {
		return
	}
	rollbar.Error(rollbar.ERR, err)
}

// Flush waits for queued error reports to be sent
func (e errorService) Flush() {
	if SuppressErrorReporting || rollbar.Token == "" {
		return
	}
	rollbar.Wait()
}
