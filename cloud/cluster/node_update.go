package cluster

import (
	"fmt"
)

type NodeUpdateType int

const (
	NodeAdded NodeUpdateType = iota
	NodeRemoved
)

func (t NodeUpdateType) String() string {
	switch t {
	case NodeAdded:
		return "joined"
	case NodeRemoved:
		return "left"
	default:
		return fmt.Sprintf("NodeUpdateType(%d)", int(t))
	}
}

// NodeUpdate represents an agent joining or leaving the pool
type NodeUpdate struct {
	UpdateType NodeUpdateType
	Id         NodeId
	Node       Node // Only set for adds
}

func (u NodeUpdate) String() string {
	if u.Node != nil {
		return fmt.Sprintf("%s %s (%s)", u.Id, u.UpdateType, u.Node.Status())
	}
	return fmt.Sprintf("%s %s", u.Id, u.UpdateType)
}

func NewAdd(node Node) NodeUpdate {
	return NodeUpdate{UpdateType: NodeAdded, Id: node.Id(), Node: node}
}

func NewRemove(id NodeId) NodeUpdate {
	return NodeUpdate{
		UpdateType: NodeRemoved,
		Id:         id,
	}
}
