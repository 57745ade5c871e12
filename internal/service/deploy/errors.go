package deploy

import "errors"

// Error kinds surfaced by the deployment lifecycle. Callers classify with errors.Is.
var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrTriggerFailed  = errors.New("build trigger failed")
	ErrOrphanEvent    = errors.New("no deployment for build job")
	ErrTransientStore = errors.New("transient store failure")
)

// Retryable reports whether a build event that failed with err should be redelivered.
// Malformed events and unknown projects are acknowledged instead.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrValidation) && !errors.Is(err, ErrNotFound)
}
