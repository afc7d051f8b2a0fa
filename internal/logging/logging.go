// Package logging wires a single process-wide logrus logger, grounded on
// c6ai-hlf-easy/node/peer.go's use of "log \"github.com/sirupsen/logrus\""
// for every diagnostic line.
package logging

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Log is the shared logger. Replicas should call For to attach a component
// field rather than logging against this directly.
var Log = logrus.StandardLogger()

func init() {
	Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// For returns a logger scoped to component, optionally tagged with this
// node's uid.
func For(component string, uid uuid.UUID) *logrus.Entry {
	entry := Log.WithField("component", component)

	if uid != uuid.Nil {
		entry = entry.WithField("uid", uid.String())
	}

	return entry
}
