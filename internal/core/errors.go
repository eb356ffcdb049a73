package core

import "errors"

// Session-level error taxonomy. Join-sequence failures wrap one of these so
// callers can tell which negotiation step broke.
var (
	ErrMediaAcquisition  = errors.New("media acquisition failed")
	ErrCapabilityLoad    = errors.New("capability load failed")
	ErrTransportCreation = errors.New("transport creation failed")
	ErrTransportConnect  = errors.New("transport connect failed")
	ErrProduce           = errors.New("produce failed")
	ErrConsume           = errors.New("consume failed")
	ErrTransportFailed   = errors.New("transport failed")
)
