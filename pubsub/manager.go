// Package pubsub
// Author: momentics <momentics@gmail.com>
//
// WebSocket endpoint membership, topics and fan-out of serialized events.
// A Manager belongs to one event loop and is never shared between
// goroutines.

package pubsub

import (
	"slices"

	"github.com/momentics/hioload-app/api"
	"github.com/momentics/hioload-app/pool"
	"github.com/momentics/hioload-app/protocol"
	"github.com/momentics/hioload-app/response"
)

// NoConnection marks an unset current connection.
const NoConnection = -1

// EndpointConfig describes one WebSocket endpoint.
type EndpointConfig struct {
	Pattern string
	Join    api.HandlerRef
	Leave   api.HandlerRef
	Events  map[string]api.HandlerRef
	// Setup references the endpoint's setup-time table in the host runtime.
	Setup api.HandlerRef
}

// Handler returns the event handler for name.
func (c *EndpointConfig) Handler(name string) (api.HandlerRef, bool) {
	ref, ok := c.Events[name]
	return ref, ok && ref.Valid()
}

// Deliverer queues an encoded frame on a connection. It reports false when
// the connection is gone or no longer accepts frames.
type Deliverer interface {
	Deliver(conn int, frame []byte) bool
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(conn int, frame []byte) bool

// Deliver implements Deliverer.
func (f DelivererFunc) Deliver(conn int, frame []byte) bool { return f(conn, frame) }

type topic struct {
	name    string
	members []int
	live    bool
}

// Manager tracks endpoints, their connections and topic subscriptions.
type Manager struct {
	endpoints []EndpointConfig
	members   [][]int

	topicIndex map[string]int
	topics     []topic
	freeTopics []int

	frames  *pool.FramePool
	deliver Deliverer

	currentConn     int
	currentEndpoint int
}

// NewManager creates a manager that hands frames to d.
func NewManager(d Deliverer) *Manager {
	return &Manager{
		topicIndex:      make(map[string]int),
		frames:          pool.NewFramePool(pool.DefaultFramePoolCapacity, pool.DefaultFrameBufferSize),
		deliver:         d,
		currentConn:     NoConnection,
		currentEndpoint: -1,
	}
}

// RegisterEndpoint adds an endpoint and returns its index.
func (m *Manager) RegisterEndpoint(cfg EndpointConfig) int {
	m.endpoints = append(m.endpoints, cfg)
	m.members = append(m.members, nil)
	return len(m.endpoints) - 1
}

// Endpoint returns the endpoint configuration at idx.
func (m *Manager) Endpoint(idx int) *EndpointConfig {
	if idx < 0 || idx >= len(m.endpoints) {
		return nil
	}
	return &m.endpoints[idx]
}

// Endpoints returns the number of registered endpoints.
func (m *Manager) Endpoints() int { return len(m.endpoints) }

// AddConnection records conn as a member of endpoint ep.
func (m *Manager) AddConnection(ep, conn int) {
	if ep < 0 || ep >= len(m.members) {
		return
	}
	m.members[ep] = append(m.members[ep], conn)
}

// RemoveConnection drops conn from endpoint ep by swap-remove.
func (m *Manager) RemoveConnection(ep, conn int) {
	if ep < 0 || ep >= len(m.members) {
		return
	}
	m.members[ep] = swapRemove(m.members[ep], conn)
}

// EndpointConnections returns the member connections of ep.
func (m *Manager) EndpointConnections(ep int) []int {
	if ep < 0 || ep >= len(m.members) {
		return nil
	}
	return m.members[ep]
}

// Subscribe adds conn to topic, creating the topic on first use.
// Subscribing twice is a no-op. It returns the topic index, which the
// caller records in the connection's subscription list.
func (m *Manager) Subscribe(conn int, name string) (idx int, added bool) {
	idx, ok := m.topicIndex[name]
	if !ok {
		if n := len(m.freeTopics); n > 0 {
			idx = m.freeTopics[n-1]
			m.freeTopics = m.freeTopics[:n-1]
			m.topics[idx] = topic{name: name, live: true}
		} else {
			idx = len(m.topics)
			m.topics = append(m.topics, topic{name: name, live: true})
		}
		m.topicIndex[name] = idx
	}
	t := &m.topics[idx]
	for _, c := range t.members {
		if c == conn {
			return idx, false
		}
	}
	t.members = append(t.members, conn)
	return idx, true
}

// TopicIndex looks up a live topic by name.
func (m *Manager) TopicIndex(name string) (int, bool) {
	idx, ok := m.topicIndex[name]
	return idx, ok
}

// Unsubscribe removes conn from the topic at idx. A topic whose last member
// leaves is removed and its slot reused.
func (m *Manager) Unsubscribe(conn, idx int) {
	if idx < 0 || idx >= len(m.topics) || !m.topics[idx].live {
		return
	}
	t := &m.topics[idx]
	t.members = orderedRemove(t.members, conn)
	if len(t.members) == 0 {
		delete(m.topicIndex, t.name)
		m.topics[idx] = topic{}
		m.freeTopics = append(m.freeTopics, idx)
	}
}

// UnsubscribeAll removes conn from every topic in subs, the connection's
// own subscription list.
func (m *Manager) UnsubscribeAll(conn int, subs []int) {
	for _, idx := range subs {
		m.Unsubscribe(conn, idx)
	}
}

// TopicMembers returns the subscribers of name.
func (m *Manager) TopicMembers(name string) []int {
	idx, ok := m.topicIndex[name]
	if !ok {
		return nil
	}
	return m.topics[idx].members
}

// Topics returns the number of live topics.
func (m *Manager) Topics() int { return len(m.topicIndex) }

// GetFrameBuf checks a buffer out of the frame pool.
func (m *Manager) GetFrameBuf() []byte { return m.frames.Get() }

// ReturnFrameBuf returns a buffer to the frame pool.
func (m *Manager) ReturnFrameBuf(b []byte) { m.frames.Put(b) }

// FramePool exposes the pool for inspection.
func (m *Manager) FramePool() *pool.FramePool { return m.frames }

// SetContext records which connection and endpoint the handler being run
// acts for. Delivery helpers address recipients relative to it.
func (m *Manager) SetContext(conn, ep int) {
	m.currentConn = conn
	m.currentEndpoint = ep
}

// ClearContext resets the current connection.
func (m *Manager) ClearContext() {
	m.currentConn = NoConnection
	m.currentEndpoint = -1
}

// Current returns the current connection and endpoint.
func (m *Manager) Current() (conn, ep int) { return m.currentConn, m.currentEndpoint }

// SendToCurrent delivers an event to the current connection.
func (m *Manager) SendToCurrent(event string, data any) (int, error) {
	if m.currentConn == NoConnection {
		return 0, nil
	}
	frame, err := m.buildFrame(event, data)
	if err != nil {
		return 0, err
	}
	if m.deliver.Deliver(m.currentConn, frame) {
		return 1, nil
	}
	return 0, nil
}

// BroadcastAll delivers to every connection of the current endpoint.
func (m *Manager) BroadcastAll(event string, data any) (int, error) {
	return m.fanOut(m.EndpointConnections(m.currentEndpoint), NoConnection, event, data)
}

// BroadcastExcept delivers to the current endpoint except the current connection.
func (m *Manager) BroadcastExcept(event string, data any) (int, error) {
	return m.fanOut(m.EndpointConnections(m.currentEndpoint), m.currentConn, event, data)
}

// BroadcastTopic delivers to every subscriber of topic.
func (m *Manager) BroadcastTopic(topic, event string, data any) (int, error) {
	return m.fanOut(m.TopicMembers(topic), NoConnection, event, data)
}

// fanOut serializes once and shares the frame across recipients.
func (m *Manager) fanOut(conns []int, skip int, event string, data any) (int, error) {
	if len(conns) == 0 || (len(conns) == 1 && conns[0] == skip) {
		return 0, nil
	}
	frame, err := m.buildFrame(event, data)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, c := range conns {
		if c == skip {
			continue
		}
		if m.deliver.Deliver(c, frame) {
			sent++
		}
	}
	return sent, nil
}

// buildFrame encodes the event JSON into a pooled scratch buffer and copies
// it into a text frame owned by the recipients.
func (m *Manager) buildFrame(event string, data any) ([]byte, error) {
	buf := m.frames.Get()
	defer func() { m.frames.Put(buf) }()

	var err error
	buf, err = AppendEvent(buf, event, data)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, protocol.FrameSize(len(buf)))
	return protocol.AppendFrame(frame, protocol.OpcodeText, buf), nil
}

// AppendEvent writes the outbound message for event. Object payloads are
// merged next to the type field; anything else goes under "data".
func AppendEvent(b []byte, event string, data any) ([]byte, error) {
	b = append(b, `{"type":`...)
	b = response.AppendString(b, event)

	mark := len(b)
	var (
		obj   []byte
		isObj bool
		err   error
	)
	switch data.(type) {
	case *api.Table, map[string]any, map[string]string:
		obj, err = response.AppendJSON(b, data)
		isObj = err == nil && len(obj) > mark && obj[mark] == '{'
	}
	if err != nil {
		return b[:mark], err
	}
	if isObj {
		b = obj
		inner := b[mark+1 : len(b)-1]
		if len(inner) == 0 {
			b = b[:mark]
			return append(b, '}'), nil
		}
		// shift the object's fields in place of its opening brace
		b[mark] = ','
		return b, nil
	}
	b = b[:mark]
	b = append(b, `,"data":`...)
	if b, err = response.AppendJSON(b, data); err != nil {
		return b[:mark], err
	}
	return append(b, '}'), nil
}

// orderedRemove keeps subscribers in subscription order.
func orderedRemove(s []int, v int) []int {
	if i := slices.Index(s, v); i >= 0 {
		return slices.Delete(s, i, i+1)
	}
	return s
}

func swapRemove(s []int, v int) []int {
	for i, x := range s {
		if x == v {
			last := len(s) - 1
			s[i] = s[last]
			return s[:last]
		}
	}
	return s
}
