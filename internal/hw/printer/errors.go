package printer

import "errors"

var (
	// ErrLinkBusy is returned when an operation is already in flight.
	ErrLinkBusy = errors.New("printer link busy")
	// ErrLinkUnavailable is returned when the link is closed or in error.
	ErrLinkUnavailable = errors.New("printer link unavailable")
	// ErrDeviceIO wraps every transport failure; the link moves to ERROR.
	ErrDeviceIO = errors.New("printer device I/O error")
	// ErrInvalidBitmap is returned for bitmaps the printer cannot accept.
	ErrInvalidBitmap = errors.New("invalid printer bitmap")
	// ErrInvalidFeed is returned for feed distances outside 0..255.
	ErrInvalidFeed = errors.New("invalid feed distance")
	// ErrInvalidQR is returned for QR payloads that do not fit the level.
	ErrInvalidQR = errors.New("invalid QR payload")
)
