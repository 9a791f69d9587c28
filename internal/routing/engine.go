package routing

import (
	"math/rand"
	"sync"
	"time"

	"call-lead-pipeline/internal/agents"
)

// Engine picks a loan officer for calls to the shared line.
//
// Priority:
//  1. Agents marked available and inside business hours
//  2. Weighted selection among them (weight <= 0 counts as 1)
//
// Return routing decision only. No side effects (no DB writes, no provider calls).
type Engine struct {
	Agents *agents.Directory

	mu  sync.Mutex
	rng *rand.Rand

	Now func() time.Time
}

func NewEngine(dir *agents.Directory, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{Agents: dir, rng: rng, Now: time.Now}
}

func (e *Engine) Route() Decision {
	now := time.Now()
	if e.Now != nil {
		now = e.Now()
	}

	var eligible []agents.Agent
	for _, a := range e.Agents.List() {
		if a.Available && a.OpenAt(now) {
			eligible = append(eligible, a)
		}
	}
	if len(eligible) == 0 {
		return Decision{Action: ActionUnavailable, Reason: "no_agent_open"}
	}
	a := e.pick(eligible)
	return Decision{Action: ActionConnect, AgentID: a.ID, Reason: "selected"}
}

func (e *Engine) pick(list []agents.Agent) agents.Agent {
	var total int
	for _, a := range list {
		total += weight(a)
	}

	e.mu.Lock()
	r := e.rng.Intn(total) // 0..total-1
	e.mu.Unlock()

	var acc int
	for _, a := range list {
		acc += weight(a)
		if r < acc {
			return a
		}
	}
	return list[len(list)-1]
}

func weight(a agents.Agent) int {
	if a.Weight <= 0 {
		return 1
	}
	return a.Weight
}
