package loader

import "errors"

var (
	// ErrSourceUnavailable finishes every request when the media could not
	// be opened or is empty.
	ErrSourceUnavailable = errors.New("media source unavailable")

	// ErrSourceRead finishes a session whose positioned read failed.
	ErrSourceRead = errors.New("media source read failed")

	// ErrRangeNotSatisfiable finishes a data request whose offset is
	// negative or not inside the resource.
	ErrRangeNotSatisfiable = errors.New("requested range not satisfiable")

	// ErrControllerClosed finishes requests that arrive after Close.
	ErrControllerClosed = errors.New("loader controller closed")
)
