package gemini

import "errors"

// Error definitions for the gemini package.
var (
	// ErrInvalidConfig is returned when the renderer is misconfigured.
	ErrInvalidConfig = errors.New("invalid gemini configuration")

	// ErrInvalidResponse is returned when the API answers without a usable image.
	ErrInvalidResponse = errors.New("invalid gemini response")

	// ErrContentBlocked is returned when safety filters block the output.
	ErrContentBlocked = errors.New("content blocked by safety filters")

	// ErrTransientFailure is returned when retries are exhausted or interrupted.
	ErrTransientFailure = errors.New("transient gemini failure")
)
