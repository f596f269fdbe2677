package gatt

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/medlink/internal/bledb"
	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/platform"
)

// subscription tracks the notification switch of one characteristic.
// enabled is the last value the peer confirmed; requested is what the caller
// wants now.
type subscription struct {
	service   string
	char      string
	requested bool
	enabled   bool
	inflight  bool
	writing   bool
}

func subscriptionKey(service, char string) string {
	return service + "/" + char
}

// marsdenStart is written to the Marsden scale once its notifications are on.
var marsdenStart = []byte("P")

// SetNotification asks the peer to start or stop notifying char. The call
// returns once the CCCD write is queued; Notifying changes only when the
// peer confirms. The latest request wins over writes still in flight.
func (m *Machine) SetNotification(service, char string, enabled bool) error {
	service = bledb.NormalizeUUID(service)
	char = bledb.NormalizeUUID(char)

	return m.worker.Call(func() error {
		if _, err := m.ready("set notification"); err != nil {
			return err
		}
		if m.State() != device.Connected {
			return device.ErrNotConnected
		}

		key := subscriptionKey(service, char)
		m.mu.Lock()
		sub, ok := m.subs.Get(key)
		if !ok {
			sub = &subscription{service: service, char: char}
			m.subs.Set(key, sub)
		}
		sub.requested = enabled
		busy := sub.inflight || sub.enabled == enabled
		m.mu.Unlock()

		if busy {
			return nil
		}
		return m.writeCCCD(sub)
	})
}

// Notifying reports the confirmed notification state of char.
func (m *Machine) Notifying(service, char string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs.Get(subscriptionKey(bledb.NormalizeUUID(service), bledb.NormalizeUUID(char)))
	return ok && sub.enabled
}

// Subscriptions lists the characteristics with confirmed notifications, in
// the order they were first requested.
func (m *Machine) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for pair := m.subs.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.enabled {
			out = append(out, pair.Key)
		}
	}
	return out
}

// cccd picks the client configuration descriptor of c, standard UUID first.
func cccd(c platform.Characteristic) (string, bool) {
	for _, want := range []string{bledb.DescClientCharConfig, bledb.DescClientCharConfigAlias} {
		for _, d := range c.Descriptors {
			if bledb.NormalizeUUID(d) == want {
				return want, true
			}
		}
	}
	return "", false
}

// writeCCCD switches local delivery and queues the descriptor write for the
// current request of sub. Worker only.
func (m *Machine) writeCCCD(sub *subscription) error {
	conn := m.connection()
	if conn == nil {
		return device.ErrNoConnection
	}

	m.mu.Lock()
	want := sub.requested
	m.mu.Unlock()

	c, ok := platform.FindCharacteristic(conn.Services(), sub.service, sub.char)
	if !ok {
		return device.InvalidArgument("characteristic", fmt.Sprintf("%s/%s is not discovered", sub.service, sub.char))
	}
	desc, ok := cccd(c)
	if !ok {
		return device.InvalidArgument("characteristic", fmt.Sprintf("%s has no client configuration descriptor", sub.char))
	}

	if err := conn.SetCharacteristicNotification(sub.service, sub.char, want); err != nil {
		return device.NewOperationError("set notification", device.NormalizeError(err))
	}
	if !want {
		m.setListening(false)
	}

	value := platform.DisableNotificationValue
	if want {
		value = platform.EnableNotificationValue
		if c.Properties&platform.PropNotify == 0 && c.Properties&platform.PropIndicate != 0 {
			value = platform.EnableIndicationValue
		}
	}

	m.mu.Lock()
	sub.inflight = true
	sub.writing = want
	m.mu.Unlock()

	m.log().WithFields(logrus.Fields{
		"characteristic": bledb.LookupOr(sub.char, sub.char),
		"enable":         want,
		"descriptor":     desc,
	}).Debug("Writing client configuration")

	m.enqueue(&op{
		kind:    opWriteDesc,
		service: sub.service,
		char:    sub.char,
		desc:    desc,
		value:   value,
		done:    func(err error) { m.confirm(sub, err) },
	})
	return nil
}

// confirm settles a CCCD write. A failed write leaves the flag as it was.
func (m *Machine) confirm(sub *subscription, err error) {
	m.mu.Lock()
	sub.inflight = false
	if err != nil {
		m.mu.Unlock()
		m.log().WithFields(logrus.Fields{
			"characteristic": sub.char,
			"error":          err,
		}).Warn("Notification change was not confirmed")
		return
	}

	if sub.writing != sub.requested {
		m.mu.Unlock()
		m.log().WithField("characteristic", sub.char).Debug("Notification request changed while writing, resyncing")
		if err := m.writeCCCD(sub); err != nil {
			m.log().WithError(err).Warn("Notification resync failed")
		}
		return
	}
	sub.enabled = sub.writing
	enabled := sub.enabled
	m.mu.Unlock()

	m.log().WithFields(logrus.Fields{
		"characteristic": bledb.LookupOr(sub.char, sub.char),
		"enabled":        enabled,
	}).Info("Notifications updated")

	if !enabled {
		return
	}
	m.setListening(true)
	if sub.char == bledb.CharMarsdenWeight {
		m.enqueue(&op{
			kind:    opWriteChar,
			service: sub.service,
			char:    sub.char,
			value:   marsdenStart,
		})
	}
}
