package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSchedulingFailed matches every AlertError.
var ErrSchedulingFailed = errors.New("alert scheduling failed")

// ResourceType is the deep-link routing class of a notification resource.
type ResourceType string

const (
	ResourceWorkPackage ResourceType = "workPackage"
	ResourceProject     ResourceType = "project"
	ResourceOther       ResourceType = "other"
)

// NormalizeResourceType folds server resource types ("WorkPackage",
// "work_packages", "Project", ...) into the closed set of routing classes.
func NormalizeResourceType(s string) ResourceType {
	folded := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(s))
	switch {
	case strings.Contains(folded, "workpackage"):
		return ResourceWorkPackage
	case strings.Contains(folded, "project"):
		return ResourceProject
	default:
		return ResourceOther
	}
}

// Identifier is the alert identifier for a notification. It depends on the
// notification id only, so scheduling it again supersedes the old alert.
func Identifier(notificationID int64) string {
	return fmt.Sprintf("notification-%d", notificationID)
}

// Payload is the content and deep-link target of an alert.
type Payload struct {
	NotificationID int64        `json:"notification_id"`
	Reason         string       `json:"reason"`
	Title          string       `json:"title"`
	Body           string       `json:"body,omitempty"`
	ResourceType   ResourceType `json:"resource_type,omitempty"`
	ResourceID     string       `json:"resource_id,omitempty"`
	URL            string       `json:"url,omitempty"`
}

// Alert is a scheduled local alert. A zero Trigger fires immediately.
type Alert struct {
	Identifier string
	Payload    Payload
	Trigger    time.Time
}

// Scheduler delivers alerts to the user. At most one live alert exists per
// identifier; scheduling an existing identifier supersedes it.
type Scheduler interface {
	Schedule(ctx context.Context, a Alert) error
	Cancel(ctx context.Context, identifier string) error
	SetBadgeCount(ctx context.Context, n int) error
}

// Forgetter is implemented by schedulers that keep delivery bookkeeping
// apart from live alerts.
type Forgetter interface {
	Forget(ctx context.Context, identifier string) error
}

// AlertError reports a failure to schedule one alert.
type AlertError struct {
	Identifier string
	Err        error
}

func (e *AlertError) Error() string {
	return fmt.Sprintf("scheduling %s: %v", e.Identifier, e.Err)
}

func (e *AlertError) Unwrap() error {
	return e.Err
}

func (e *AlertError) Is(target error) bool {
	return target == ErrSchedulingFailed
}
