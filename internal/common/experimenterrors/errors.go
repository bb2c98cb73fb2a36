// Package experimenterrors contains the errors returned by the experiment pipeline.
// The run report and the metrics classify failures by looking for the error types defined
// in this file anywhere in an error chain, so code should wrap them with pkg/errors rather
// than replacing them.
//
// If multiple errors occur in some function (e.g., several pods fail to delete), that
// function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package experimenterrors

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrProvisioning is returned when the cluster API rejects a create or delete request.
type ErrProvisioning struct {
	Type    string // Resource type, e.g., "pod" or "deployment"
	Name    string // Resource name
	Action  string // e.g., "create" or "delete"
	Message string // An optional message to include in the error message
}

func (err *ErrProvisioning) Error() (s string) {
	s = fmt.Sprintf("failed to %s %s %q", err.Action, err.Type, err.Name)
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	return
}

// ErrResolutionTimeout is returned when pods never reported an ip address within the allowed time.
type ErrResolutionTimeout struct {
	Pods    []string // Pods that were still unresolved
	Timeout time.Duration
}

func (err *ErrResolutionTimeout) Error() string {
	return fmt.Sprintf("pods [%s] did not get an ip address within %s", strings.Join(err.Pods, ", "), err.Timeout)
}

// ErrReadinessTimeout is returned when no readiness event arrived on Channel within Timeout.
type ErrReadinessTimeout struct {
	Channel string
	Timeout time.Duration
}

func (err *ErrReadinessTimeout) Error() string {
	return fmt.Sprintf("no event received on channel %q within %s", err.Channel, err.Timeout)
}

// ErrWeightPublish is returned when a weight-table entry could not be written to or removed from the store.
type ErrWeightPublish struct {
	Key     string
	Message string
}

func (err *ErrWeightPublish) Error() (s string) {
	s = fmt.Sprintf("failed to publish weights for key %q", err.Key)
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	return
}

// ErrRoutePublish is returned when a routing-table entry could not be set or removed.
type ErrRoutePublish struct {
	Service string
	Message string
}

func (err *ErrRoutePublish) Error() (s string) {
	s = fmt.Sprintf("failed to update route for service %q", err.Service)
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	return
}

// ErrWorkload is returned when a client group could not be spawned or its requests failed.
type ErrWorkload struct {
	Group   string
	Message string
}

func (err *ErrWorkload) Error() (s string) {
	s = fmt.Sprintf("workload of client group %q failed", err.Group)
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	return
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "profiles"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message, e.g., explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for field %q", err.Value, err.Name)
	} else {
		return fmt.Sprintf("value %v is invalid for field %q; %s", err.Value, err.Name, err.Message)
	}
}

// Kind maps error types to a short, stable name.
// Uses errors.As to look through the chain of errors, as opposed to just considering the topmost error in the chain.
func Kind(err error) string {
	if err == nil {
		return "none"
	}

	// Using {} scopes just to re-use the "e" variable name for each case.
	{
		var e *ErrProvisioning
		if errors.As(err, &e) {
			return "provisioning"
		}
	}
	{
		var e *ErrResolutionTimeout
		if errors.As(err, &e) {
			return "resolution_timeout"
		}
	}
	{
		var e *ErrReadinessTimeout
		if errors.As(err, &e) {
			return "readiness_timeout"
		}
	}
	{
		var e *ErrWeightPublish
		if errors.As(err, &e) {
			return "weight_publish"
		}
	}
	{
		var e *ErrRoutePublish
		if errors.As(err, &e) {
			return "route_publish"
		}
	}
	{
		var e *ErrWorkload
		if errors.As(err, &e) {
			return "workload"
		}
	}
	{
		var e *ErrInvalidArgument
		if errors.As(err, &e) {
			return "invalid_argument"
		}
	}
	return "unknown"
}
