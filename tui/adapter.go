package tui

import (
	"github.com/mickamy/tagvault/arbae"
	"github.com/mickamy/tagvault/rbae"
)

// rbaeWatcher adapts *rbae.ObserverClient to Watcher.
type rbaeWatcher struct{ oc *rbae.ObserverClient }

// NewRBAEWatcher wraps an RBAE observer client as a Watcher.
func NewRBAEWatcher(oc *rbae.ObserverClient) Watcher { return rbaeWatcher{oc: oc} }

func (w rbaeWatcher) Next() (string, string, error) {
	cause, tag, err := w.oc.Next()
	if err != nil {
		return "", "", err
	}
	return cause.String(), tag, nil
}

// arbaeWatcher adapts *arbae.ObserverClient to Watcher.
type arbaeWatcher struct{ oc *arbae.ObserverClient }

// NewArbaeWatcher wraps an ARBAE observer client as a Watcher.
func NewArbaeWatcher(oc *arbae.ObserverClient) Watcher { return arbaeWatcher{oc: oc} }

func (w arbaeWatcher) Next() (string, string, error) {
	cause, tag, err := w.oc.Next()
	if err != nil {
		return "", "", err
	}
	return cause.String(), tag, nil
}
