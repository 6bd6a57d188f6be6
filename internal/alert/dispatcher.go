package alert

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/btouchard/beacon/internal/notification"
	"github.com/btouchard/beacon/internal/notify"
)

// DefaultReasons are the reasons that raise an alert when none are configured.
var DefaultReasons = []notification.Reason{notification.ReasonMentioned, notification.ReasonWatched}

// Options configures a Dispatcher.
type Options struct {
	// AlertableReasons defaults to DefaultReasons.
	AlertableReasons []notification.Reason
	// WebURL is the web UI root used to build deep links. Empty disables them.
	WebURL string
	Events notify.Notifier
}

// Dispatcher turns newly unread notifications into alerts. It owns no state
// beyond what its scheduler keeps.
type Dispatcher struct {
	scheduler Scheduler
	alertable map[notification.Reason]bool
	webURL    string
	events    notify.Notifier
}

// NewDispatcher creates a Dispatcher scheduling through s.
func NewDispatcher(s Scheduler, opts Options) *Dispatcher {
	reasons := opts.AlertableReasons
	if len(reasons) == 0 {
		reasons = DefaultReasons
	}
	alertable := make(map[notification.Reason]bool, len(reasons))
	for _, r := range reasons {
		alertable[r] = true
	}

	return &Dispatcher{
		scheduler: s,
		alertable: alertable,
		webURL:    strings.TrimSuffix(opts.WebURL, "/"),
		events:    opts.Events,
	}
}

// Dispatch schedules an alert for every alertable record and pushes the
// unread count to the badge. It returns the scheduled identifiers; failed
// schedules are joined into the error and never stop the badge update.
func (d *Dispatcher) Dispatch(ctx context.Context, newlyUnread []notification.Record, unread int) ([]string, error) {
	var (
		scheduled []string
		errs      []error
	)

	for _, r := range newlyUnread {
		if !d.alertable[r.Reason] {
			slog.Debug("notification not alertable", "notification_id", r.ID, "reason", r.Reason)
			continue
		}

		a := d.alertFor(r)
		if err := d.scheduler.Schedule(ctx, a); err != nil {
			slog.Warn("failed to schedule alert",
				"identifier", a.Identifier,
				"error", err)
			errs = append(errs, &AlertError{Identifier: a.Identifier, Err: err})
			continue
		}

		scheduled = append(scheduled, a.Identifier)
		slog.Info("alert scheduled",
			"identifier", a.Identifier,
			"reason", r.Reason,
			"resource_type", a.Payload.ResourceType)

		if d.events != nil {
			d.events.Notify(notify.Event{
				Type:           notify.AlertScheduled,
				NotificationID: r.ID,
				UnreadCount:    unread,
				Message:        a.Payload.Title,
			})
		}
	}

	d.UpdateBadge(ctx, unread)

	return scheduled, errors.Join(errs...)
}

// UpdateBadge pushes the unread count to the badge. Failures are logged.
func (d *Dispatcher) UpdateBadge(ctx context.Context, unread int) {
	if err := d.scheduler.SetBadgeCount(ctx, unread); err != nil {
		slog.Warn("failed to update badge", "unread_count", unread, "error", err)
	}
}

// Forget releases delivery bookkeeping for ids that are no longer unread.
// Live alerts are never canceled here.
func (d *Dispatcher) Forget(ctx context.Context, ids []int64) {
	f, ok := d.scheduler.(Forgetter)
	if !ok {
		return
	}
	for _, id := range ids {
		if err := f.Forget(ctx, Identifier(id)); err != nil {
			slog.Warn("failed to forget alert", "identifier", Identifier(id), "error", err)
		}
	}
}

func (d *Dispatcher) alertFor(r notification.Record) Alert {
	p := Payload{
		NotificationID: r.ID,
		Reason:         string(r.Reason),
		Title:          titleFor(r.Reason),
		Body:           r.Message,
	}

	if r.Resource != nil {
		p.ResourceType = NormalizeResourceType(r.Resource.Type)
		p.ResourceID = r.Resource.ID
		if p.Body == "" {
			p.Body = r.Resource.Name
		}
	}
	p.URL = d.deepLink(p)

	return Alert{Identifier: Identifier(r.ID), Payload: p}
}

func (d *Dispatcher) deepLink(p Payload) string {
	if d.webURL == "" {
		return ""
	}
	if p.ResourceID == "" {
		return d.webURL + "/notifications"
	}

	id := url.PathEscape(p.ResourceID)
	switch p.ResourceType {
	case ResourceWorkPackage:
		return d.webURL + "/work_packages/" + id
	case ResourceProject:
		return d.webURL + "/projects/" + id
	default:
		return d.webURL + "/notifications"
	}
}

func titleFor(r notification.Reason) string {
	switch r {
	case notification.ReasonMentioned:
		return "You were mentioned"
	case notification.ReasonWatched:
		return "Watched item updated"
	case notification.ReasonAssigned:
		return "Assigned to you"
	case notification.ReasonResponsible:
		return "You are accountable"
	case notification.ReasonCommented:
		return "New comment"
	default:
		return "New notification"
	}
}
