package netio_test

import (
	"context"
	"testing"
)

// contextWithCancelCleanup returns a context cancelled automatically at the
// end of the test, for driving a Run loop that only stops on cancellation.
func contextWithCancelCleanup(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
