package importer

import (
	"fmt"
	"strings"
	"time"
)

// trace collects a human readable log of one run, each line stamped with
// the time elapsed since the run started.
type trace struct {
	start time.Time
	now   func() time.Time
	b     strings.Builder
}

func newTrace(now func() time.Time) *trace {
	return &trace{start: now(), now: now}
}

func (t *trace) step(format string, args ...any) {
	elapsed := t.now().Sub(t.start).Round(time.Millisecond)
	fmt.Fprintf(&t.b, "[+%s] ", elapsed)
	fmt.Fprintf(&t.b, format, args...)
	t.b.WriteByte('\n')
}

func (t *trace) elapsed() time.Duration {
	return t.now().Sub(t.start)
}

func (t *trace) String() string {
	return t.b.String()
}
