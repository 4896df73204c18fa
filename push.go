package alwaysoffline

import (
	"context"

	"github.com/always-offline/always-offline/sessions"

	"github.com/rs/zerolog/log"
)

// Actions attached to every push notification.
const (
	ActionOpen    = "open"
	ActionDismiss = "dismiss"
)

const (
	notificationTitle = "Always Offline"
	defaultPushBody   = "New content is available offline."
	notificationIcon  = "/icons/icon-192.png"
	notificationBadge = "/icons/badge-72.png"
)

type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Notification is what gets shown to the user for a push.
type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Icon    string               `json:"icon"`
	Badge   string               `json:"badge"`
	Actions []NotificationAction `json:"actions"`
}

// Notifier displays notifications. The gateway has no display surface of its
// own, so delivery is delegated to the host application, a webhook, or the
// log.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log. It is the default Notifier.
type LogNotifier struct{}

func (LogNotifier) Show(_ context.Context, n Notification) error {
	log.Info().Str("title", n.Title).Str("body", n.Body).Msg("Notification")
	return nil
}

// HandlePush shows a notification for an incoming push payload.
// The payload is optional plain text used as the notification body.
func (w *Worker) HandlePush(ctx context.Context, payload []byte) error {
	body := string(payload)
	if body == "" {
		body = defaultPushBody
	}
	return w.notifier.Show(ctx, Notification{
		Title: notificationTitle,
		Body:  body,
		Icon:  notificationIcon,
		Badge: notificationBadge,
		Actions: []NotificationAction{
			{Action: ActionOpen, Title: "Open app"},
			{Action: ActionDismiss, Title: "Dismiss"},
		},
	})
}

// HandleNotificationClick reacts to the user clicking a notification.
// Dismiss does nothing and returns nil. Open, or a click on the notification
// body itself (empty action), focuses the most recently focused window of
// the worker's origin, or opens a new window at the root path if none is
// attached.
func (w *Worker) HandleNotificationClick(_ context.Context, action string) *sessions.Window {
	if action == ActionDismiss {
		return nil
	}
	origin := w.originURL.String()
	for _, win := range w.sessions.Windows() {
		if win.Origin != origin {
			continue
		}
		if focused, ok := w.sessions.Focus(win.ID); ok {
			log.Debug().Str("window", focused.ID).Str("path", focused.Path).Msg("Focused window")
			return &focused
		}
	}
	opened := w.sessions.OpenWindow(origin, "/")
	log.Debug().Str("window", opened.ID).Msg("Opened window")
	return &opened
}
