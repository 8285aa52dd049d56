package cluster

import (
	log "github.com/sirupsen/logrus"
)

// State is the current membership view. Not safe for concurrent use.
type State struct {
	Nodes       map[NodeId]Node
	nopCheckCnt int
}

func MakeState(nodes []Node) *State {
	s := &State{
		Nodes: make(map[NodeId]Node),
	}
	s.SetAndDiff(nodes)
	return s
}

// SetAndDiff takes the new membership as an argument and returns
// node updates based on the diff: adds first, then removes, each sorted by id.
func (s *State) SetAndDiff(newState []Node) []NodeUpdate {
	old := s.Nodes
	added := []Node{}
	for _, n := range newState {
		if _, exists := old[n.Id()]; exists {
			// remove from old so that it only contains nodes removed in this diff
			delete(old, n.Id())
		} else {
			added = append(added, n)
		}
	}
	removed := []Node{}
	for _, n := range old {
		removed = append(removed, n)
	}
	sortById(added)
	sortById(removed)

	outgoing := []NodeUpdate{}
	for _, n := range added {
		log.WithFields(log.Fields{"agent": n.Id(), "status": n.Status()}).Info("Agent joined the pool")
		outgoing = append(outgoing, NewAdd(n))
	}
	for _, n := range removed {
		log.WithFields(log.Fields{"agent": n.Id(), "status": n.Status()}).Info("Agent left the pool")
		outgoing = append(outgoing, NewRemove(n.Id()))
	}

	if len(outgoing) > 0 {
		log.WithFields(log.Fields{
			"added":    len(added),
			"removed":  len(removed),
			"members":  len(newState),
			"nopCheck": s.nopCheckCnt,
		}).Info("Pool membership changed")
		s.nopCheckCnt = 0
	} else {
		s.nopCheckCnt++
	}

	s.Nodes = make(map[NodeId]Node)
	for _, n := range newState {
		s.Nodes[n.Id()] = n
	}
	return outgoing
}

// Update applies individual updates. A remove of an unknown node is ignored.
func (s *State) Update(updates []NodeUpdate) {
	for _, u := range updates {
		switch u.UpdateType {
		case NodeAdded:
			if u.Node != nil {
				s.Nodes[u.Id] = u.Node
			}
		case NodeRemoved:
			delete(s.Nodes, u.Id)
		}
	}
}

// Current returns members sorted by id.
func (s *State) Current() []Node {
	r := make([]Node, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		r = append(r, n)
	}
	sortById(r)
	return r
}
