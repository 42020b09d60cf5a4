// internal/notifications/notifier.go
package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"hostmonitor/internal/monitoring"
)

const sendTimeout = 30 * time.Second

// Notifier turns status transitions into alerts and, while any host stays
// offline, repeats a reminder listing them.
type Notifier struct {
	events     *monitoring.EventBus
	aggregator *monitoring.Aggregator
	sender     Sender
	reminder   time.Duration
	newTicker  func(d time.Duration) (<-chan time.Time, func())
}

// NewNotifier returns a notifier; a reminder interval of zero disables reminders.
func NewNotifier(events *monitoring.EventBus, aggregator *monitoring.Aggregator, sender Sender, reminder time.Duration) *Notifier {
	if sender == nil {
		sender = LogSender{}
	}
	return &Notifier{
		events:     events,
		aggregator: aggregator,
		sender:     sender,
		reminder:   reminder,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Run blocks until ctx is done. Transitions queue up while a send is in
// flight, so a slow sender delays alerts but never loses them.
func (n *Notifier) Run(ctx context.Context) {
	sub := n.events.SubscribeQueued(monitoring.EventTransition)
	defer sub.Close()

	var reminders <-chan time.Time
	if n.reminder > 0 {
		ticks, stop := n.newTicker(n.reminder)
		defer stop()
		reminders = ticks
	}

	logrus.WithField("reminder", n.reminder).Info("Notifier started")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if msg, ok := transitionMessage(ev.Transition); ok {
				n.send(ctx, msg)
			}
		case <-reminders:
			if msg, ok := reminderMessage(n.aggregator.WithStatus(monitoring.StatusOffline)); ok {
				n.send(ctx, msg)
			}
		}
	}
}

func (n *Notifier) send(ctx context.Context, msg Message) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := n.sender.Send(sendCtx, msg); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"kind": msg.Kind,
			"host": msg.Host,
		}).Error("Failed to send notification")
	}
}

func transitionMessage(t *monitoring.StatusTransition) (Message, bool) {
	if t == nil {
		return Message{}, false
	}

	msg := Message{HostID: t.HostID, Host: t.HostName, Timestamp: t.Timestamp}
	switch {
	case t.To == monitoring.StatusOffline:
		msg.Kind = KindOffline
		msg.Text = "host offline: " + t.HostName
	case t.From == monitoring.StatusOffline && t.To == monitoring.StatusOnline:
		msg.Kind = KindOnline
		msg.Text = "host online: " + t.HostName
	default:
		return Message{}, false
	}
	return msg, true
}

func reminderMessage(offline []monitoring.HostState) (Message, bool) {
	if len(offline) == 0 {
		return Message{}, false
	}

	names := make([]string, len(offline))
	for i, st := range offline {
		names[i] = st.Name
	}
	list := strings.Join(names, ", ")

	msg := Message{Kind: KindReminder, Host: list, Timestamp: time.Now()}
	if len(offline) == 1 {
		msg.HostID = offline[0].HostID
		msg.Text = "host offline: " + list
	} else {
		msg.Text = fmt.Sprintf("%d hosts offline: %s", len(offline), list)
	}
	return msg, true
}
