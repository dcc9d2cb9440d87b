package run

import "errors"

var (
	ErrRunNotFound      = errors.New("run not found")
	ErrRunNotPending    = errors.New("run is not pending")
	ErrSubscriberClosed = errors.New("subscriber closed")
	ErrManagerClosed    = errors.New("run manager is shut down")
	ErrUnknownEventType = errors.New("unknown run event type")
)
