package gatt

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/medlink/internal/bledb"
	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/platform"
)

type opKind int

const (
	opReadChar opKind = iota
	opWriteChar
	opReadDesc
	opWriteDesc
	opReadRSSI
)

func (k opKind) String() string {
	switch k {
	case opReadChar:
		return "read characteristic"
	case opWriteChar:
		return "write characteristic"
	case opReadDesc:
		return "read descriptor"
	case opWriteDesc:
		return "write descriptor"
	case opReadRSSI:
		return "read rssi"
	default:
		return fmt.Sprintf("opKind(%d)", int(k))
	}
}

// op is one queued GATT request. done, if set, receives the outcome.
type op struct {
	kind    opKind
	service string
	char    string
	desc    string
	value   []byte
	seq     uint64
	done    func(err error)
}

func (o *op) matches(kind opKind, service, char, desc string) bool {
	if o.kind != kind {
		return false
	}
	if kind == opReadRSSI {
		return true
	}
	if o.service != bledb.NormalizeUUID(service) || o.char != bledb.NormalizeUUID(char) {
		return false
	}
	return desc == "" || o.desc == bledb.NormalizeUUID(desc)
}

func (o *op) finish(err error) {
	if o.done != nil {
		o.done(err)
	}
}

func (m *Machine) issue(conn platform.Conn, o *op) error {
	switch o.kind {
	case opReadChar:
		return conn.ReadCharacteristic(o.service, o.char)
	case opWriteChar:
		return conn.WriteCharacteristic(o.service, o.char, o.value)
	case opReadDesc:
		return conn.ReadDescriptor(o.service, o.char, o.desc)
	case opWriteDesc:
		return conn.WriteDescriptor(o.service, o.char, o.desc, o.value)
	case opReadRSSI:
		return conn.ReadRSSI()
	}
	return fmt.Errorf("unknown operation %v", o.kind)
}

// enqueue appends o and starts it if nothing is in flight. Worker only.
func (m *Machine) enqueue(o *op) {
	m.mu.Lock()
	m.seq++
	o.seq = m.seq
	m.queue = append(m.queue, o)
	m.mu.Unlock()

	m.next()
}

// next starts queued ops until one is accepted by the platform.
func (m *Machine) next() {
	for {
		m.mu.Lock()
		if m.inflight != nil || len(m.queue) == 0 || m.conn == nil {
			m.mu.Unlock()
			return
		}
		o := m.queue[0]
		m.queue = m.queue[1:]
		m.inflight = o
		conn := m.conn
		m.mu.Unlock()

		m.worker.Schedule(m.timeoutKey, m.cfg.OpTimeout, func() { m.expire(o) })
		err := m.issue(conn, o)
		if err == nil {
			return
		}

		m.worker.Cancel(m.timeoutKey)
		m.mu.Lock()
		if m.inflight == o {
			m.inflight = nil
		}
		m.mu.Unlock()
		m.fail(o, device.NewOperationError(o.kind.String(), device.NormalizeError(err)))
	}
}

// complete matches a completion signal against the in-flight op and
// advances the queue. It reports whether the signal was expected.
func (m *Machine) complete(kind opKind, service, char, desc string, status platform.Status) bool {
	m.mu.Lock()
	o := m.inflight
	if o == nil || !o.matches(kind, service, char, desc) {
		m.mu.Unlock()
		m.log().WithFields(logrus.Fields{
			"op":             kind,
			"characteristic": char,
		}).Debug("Unsolicited GATT completion")
		return false
	}
	m.inflight = nil
	m.mu.Unlock()
	m.worker.Cancel(m.timeoutKey)

	if status.OK() {
		o.finish(nil)
	} else {
		m.fail(o, device.NewOperationError(kind.String(), fmt.Errorf("status %d", status)))
	}
	m.next()
	return true
}

func (m *Machine) expire(o *op) {
	m.mu.Lock()
	if m.inflight != o {
		m.mu.Unlock()
		return
	}
	m.inflight = nil
	m.mu.Unlock()

	m.fail(o, device.NewOperationError(o.kind.String(), device.ErrTimeout))
	m.next()
}

func (m *Machine) fail(o *op, err error) {
	m.log().WithFields(logrus.Fields{
		"characteristic": o.char,
		"error":          err,
	}).Warn("GATT operation failed")
	o.finish(err)
}

// PendingOps is the number of queued ops, including the one in flight.
func (m *Machine) PendingOps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.queue)
	if m.inflight != nil {
		n++
	}
	return n
}

func (m *Machine) submit(o *op) error {
	return m.worker.Call(func() error {
		if _, err := m.ready(o.kind.String()); err != nil {
			return err
		}
		if m.State() != device.Connected {
			return device.ErrNotConnected
		}
		m.enqueue(o)
		return nil
	})
}

// Read queues a characteristic read. The value arrives as a
// CharacteristicValue event.
func (m *Machine) Read(service, char string) error {
	return m.submit(&op{
		kind:    opReadChar,
		service: bledb.NormalizeUUID(service),
		char:    bledb.NormalizeUUID(char),
	})
}

// Write queues a characteristic write.
func (m *Machine) Write(service, char string, value []byte) error {
	return m.submit(&op{
		kind:    opWriteChar,
		service: bledb.NormalizeUUID(service),
		char:    bledb.NormalizeUUID(char),
		value:   append([]byte(nil), value...),
	})
}

func (m *Machine) ReadDescriptor(service, char, desc string) error {
	return m.submit(&op{
		kind:    opReadDesc,
		service: bledb.NormalizeUUID(service),
		char:    bledb.NormalizeUUID(char),
		desc:    bledb.NormalizeUUID(desc),
	})
}

func (m *Machine) ReadRSSI() error {
	return m.submit(&op{kind: opReadRSSI})
}
