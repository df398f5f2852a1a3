// Package ws fans log and event streams out to websocket and SSE
// subscribers. Streams are keyed by topic; dev-server logs and
// deployment events for the same project are distinct topics.
package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub tracks subscribers per topic and delivers payloads to them.
// Subscribers whose Send fails are closed and dropped.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[Subscriber]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[Subscriber]struct{})}
}

// DevServerTopic names the log stream of a project's dev server.
func DevServerTopic(projectID string) string { return "devserver:" + projectID }

// DeploymentTopic names the status event stream of a deployment.
func DeploymentTopic(deploymentID string) string { return "deployment:" + deploymentID }

// Subscribe attaches a client to a topic.
func (h *Hub) Subscribe(topic string, client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[Subscriber]struct{})
		h.topics[topic] = subs
	}
	subs[client] = struct{}{}
}

// Unsubscribe detaches a client. The client is not closed; callers own
// the connection lifecycle.
func (h *Hub) Unsubscribe(topic string, client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(subs, client)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

// Publish delivers payload to every subscriber of the topic. Failed
// subscribers are closed and removed.
func (h *Hub) Publish(topic string, payload []byte) {
	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		h.mu.Unlock()
		return
	}
	targets := make([]Subscriber, 0, len(subs))
	for c := range subs {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	var failed []Subscriber
	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			c.Close()
			failed = append(failed, c)
		}
	}
	if len(failed) == 0 {
		return
	}
	h.mu.Lock()
	if subs, ok := h.topics[topic]; ok {
		for _, c := range failed {
			delete(subs, c)
		}
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	h.mu.Unlock()
}

// SubscriberCount reports how many clients follow a topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}
