package browser

import "errors"

var (
	// ErrBrowserLaunch is fatal for the whole run.
	ErrBrowserLaunch = errors.New("browser launch failed")
	// ErrSessionClosed is returned by any operation on a closed session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrElementNotFound means a locator matched nothing when an action needed it.
	ErrElementNotFound = errors.New("element not found")
)
