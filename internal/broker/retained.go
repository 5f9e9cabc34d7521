package broker

import (
	"github.com/pyr33x/goqttd/internal/packet"
	"github.com/pyr33x/goqttd/internal/topic"
)

// retainedStore holds the last retained PUBLISH per concrete topic.
// Router-owned, same as everything else in this package — no mutex, since
// nothing outside the router's event loop ever touches it.
type retainedStore struct {
	byTopic map[string]*packet.Publish
}

func newRetainedStore() *retainedStore {
	return &retainedStore{byTopic: make(map[string]*packet.Publish)}
}

// Apply stores or clears the retained message for p.Topic. An empty payload
// deletes the retained entry for that topic.
func (r *retainedStore) Apply(p *packet.Publish) {
	if len(p.Payload) == 0 {
		delete(r.byTopic, p.Topic)
		return
	}
	stored := *p
	stored.Retain = true
	r.byTopic[p.Topic] = &stored
}

// Match returns every retained message whose topic is matched by filter, for
// delivery to a newly subscribing client.
func (r *retainedStore) Match(filter string) []*packet.Publish {
	var out []*packet.Publish
	for t, p := range r.byTopic {
		if topic.Matches(t, filter) {
			out = append(out, p)
		}
	}
	return out
}
