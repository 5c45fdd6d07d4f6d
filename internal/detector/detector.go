// Package detector calls the external Winston AI image-detection service.
// Two transport variants exist, REST and MCP; both hand back the same loose
// document shape so the rest of the pipeline never cares which one answered.
package detector

import (
	"context"
	"errors"
)

// ErrMissingCredential is returned before any network activity when no
// Winston API key is configured.
var ErrMissingCredential = errors.New("winston api key is not configured")

// Response is the raw outcome of one detection call. Payload is the loosely
// typed upstream document; StatusCode is the upstream HTTP status, zero when
// the transport has no meaningful one.
type Response struct {
	Payload    map[string]any
	StatusCode int
}

// Client performs one detection attempt per call. Retries are the caller's
// decision and the pipeline deliberately makes none.
type Client interface {
	Detect(ctx context.Context, imageURL string) (*Response, error)
}
