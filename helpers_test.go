package critforce

import (
	"testing"

	"github.com/stretchr/testify/mock"
)

// test helper silences superfluous logging calls from the mock package
type quiet struct {
	t *testing.T
}

func (q quiet) Logf(format string, args ...interface{}) {}

func (q quiet) Errorf(format string, args ...interface{}) {
	q.t.Errorf(format, args...)
}

func (q quiet) FailNow() {
	q.t.FailNow()
}

func silenceT(t *testing.T) mock.TestingT {
	return quiet{t}
}
