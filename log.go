package genet

import (
	"io"

	"github.com/sirupsen/logrus"
)

// discardLogger builds a logrus.Entry writing to io.Discard, so a Host
// constructed without an explicit Logger produces no output by
// default — replacing the teacher's always-on colorized log.Printf
// package (pkg/logger) with the corpus's structured-logging library
// (nabbar-golib wraps logrus as its backend), silent unless configured.
func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
