// Package cluster tracks which agents are currently members of the pool.
// Membership is whatever set of agents has a live machine ad; State turns
// successive sets into add/remove updates.
package cluster

import (
	"fmt"
	"sort"
)

// An agent name, e.g. 'agent1'.
type NodeId string

type Node interface {
	Id() NodeId

	// Summary of the agent's last report, like 'slots=12 busy=3'.
	Status() string
}

// AgentNode is a member as seen through its latest machine ad.
type AgentNode struct {
	Name  NodeId
	Slots int
	Busy  int
}

// NewAgentNode describes an agent advertising slots slots, busy of them Busy.
func NewAgentNode(name string, slots, busy int) *AgentNode {
	return &AgentNode{Name: NodeId(name), Slots: slots, Busy: busy}
}

func (n *AgentNode) Id() NodeId {
	return n.Name
}

func (n *AgentNode) Status() string {
	return fmt.Sprintf("slots=%d busy=%d", n.Slots, n.Busy)
}

func (n *AgentNode) Idle() int {
	return n.Slots - n.Busy
}

func (n *AgentNode) String() string {
	return fmt.Sprintf("%s(%s)", n.Name, n.Status())
}

// AgentNames returns the names given to a pool of num agents: agent1..agentN.
func AgentNames(num int) []string {
	names := make([]string, num)
	for i := range names {
		names[i] = fmt.Sprintf("agent%d", i+1)
	}
	return names
}

func sortById(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Id() < nodes[j].Id() })
}

var _ Node = (*AgentNode)(nil)
