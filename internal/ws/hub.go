// Package ws fans deployment transitions out to streaming clients.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/splax/buildor/internal/domain"
)

// replayDepth bounds how many deployments per project are replayed to a new subscriber.
const replayDepth = 20

// Subscriber is a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub routes deployment snapshots to the subscribers of their project. New
// subscribers first receive the latest snapshot of recently active deployments.
type Hub struct {
	join    chan subscription
	leave   chan subscription
	publish chan transition
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	logger  *slog.Logger
}

type subscription struct {
	projectID string
	sub       Subscriber
}

type transition struct {
	projectID    string
	deploymentID string
	status       domain.Status
	phase        domain.Phase
	payload      []byte
}

// supersedes reports whether t is at least as far along as prev. Publishers race,
// so a Building snapshot may arrive after the Failed one that replaced it.
func (t transition) supersedes(prev transition) bool {
	switch {
	case prev.status.Terminal():
		return false
	case t.status.Terminal():
		return true
	case prev.status == domain.StatusBuilding && t.status == domain.StatusPending:
		return false
	}
	return t.phase.Index() >= prev.phase.Index()
}

// projectFeed is owned by the run goroutine.
type projectFeed struct {
	subs   map[Subscriber]struct{}
	latest map[string]transition
	order  []string
}

// remember records t unless the feed already holds a later state of the same
// deployment. Stale snapshots are neither stored nor delivered.
func (f *projectFeed) remember(t transition) bool {
	if prev, seen := f.latest[t.deploymentID]; seen {
		if !t.supersedes(prev) {
			return false
		}
		for i, id := range f.order {
			if id == t.deploymentID {
				f.order = append(f.order[:i], f.order[i+1:]...)
				break
			}
		}
	}
	f.latest[t.deploymentID] = t
	f.order = append(f.order, t.deploymentID)
	if len(f.order) > replayDepth {
		delete(f.latest, f.order[0])
		f.order = f.order[1:]
	}
	return true
}

// NewHub starts a hub.
func NewHub(logger *slog.Logger) *Hub {
	h := &Hub{
		join:    make(chan subscription),
		leave:   make(chan subscription),
		publish: make(chan transition, 64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.done)
	feeds := make(map[string]*projectFeed)
	feed := func(projectID string) *projectFeed {
		f, ok := feeds[projectID]
		if !ok {
			f = &projectFeed{subs: make(map[Subscriber]struct{}), latest: make(map[string]transition)}
			feeds[projectID] = f
		}
		return f
	}
	deliver := func(f *projectFeed, s Subscriber, payload []byte) bool {
		if err := s.Send(payload); err != nil {
			s.Close()
			delete(f.subs, s)
			return false
		}
		return true
	}
	apply := func(t transition) {
		f := feed(t.projectID)
		if !f.remember(t) {
			h.logger.Debug("stale transition dropped", "deployment_id", t.deploymentID, "status", t.status)
			return
		}
		for s := range f.subs {
			deliver(f, s, t.payload)
		}
	}

	for {
		select {
		case j := <-h.join:
			// Transitions published before Register must be in the replay.
		drain:
			for {
				select {
				case t := <-h.publish:
					apply(t)
				default:
					break drain
				}
			}
			f := feed(j.projectID)
			f.subs[j.sub] = struct{}{}
			for _, id := range f.order {
				if !deliver(f, j.sub, f.latest[id].payload) {
					break
				}
			}
		case l := <-h.leave:
			if f, ok := feeds[l.projectID]; ok {
				delete(f.subs, l.sub)
			}
		case t := <-h.publish:
			apply(t)
		case <-h.stop:
			for _, f := range feeds {
				for s := range f.subs {
					s.Close()
				}
			}
			return
		}
	}
}

// Register subscribes client to a project. After Close the client is closed immediately.
func (h *Hub) Register(projectID string, client Subscriber) {
	select {
	case h.join <- subscription{projectID: projectID, sub: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(projectID string, client Subscriber) {
	select {
	case h.leave <- subscription{projectID: projectID, sub: client}:
	case <-h.done:
	}
}

// Publish streams a deployment snapshot to subscribers of its project.
func (h *Hub) Publish(d domain.Deployment) {
	payload, err := json.Marshal(d.Snapshot())
	if err != nil {
		h.logger.Warn("encode transition failed", "deployment_id", d.ID, "error", err)
		return
	}
	select {
	case h.publish <- transition{projectID: d.ProjectID, deploymentID: d.ID, status: d.Status, phase: d.Phase, payload: payload}:
	case <-h.done:
	}
}

// Close disconnects every subscriber and stops the hub.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.stop) })
	<-h.done
}
