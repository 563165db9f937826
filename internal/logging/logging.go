// Package logging centralizes the logrus setup shared by every
// subsystem of the engine so that fields like peer and container stay
// consistent across packages.
package logging

import "github.com/sirupsen/logrus"

// New returns a logger configured the way the engine wants by default:
// text formatter, warn level, so a library consumer isn't flooded with
// output unless they opt in.
func New() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

// Nop returns a logger that discards everything, used by components
// constructed without an explicit *logrus.Logger (e.g. in unit tests).
func Nop() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discard{})
	return l
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
