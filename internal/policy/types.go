package policy

import (
	"time"

	"github.com/goodtune/quotakeeper/internal/resource"
)

// Action is the transition a requester asks for.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// Reasons a request is denied. A denial is a normal outcome, not an error.
const (
	ReasonNoBudget   = "no_budget"
	ReasonWrongState = "wrong_state"
	ReasonNotOwner   = "not_owner"
)

// Decision is the gate's answer to a start or stop request.
type Decision struct {
	Action    Action         `json:"action"`
	Allowed   bool           `json:"allowed"`
	Reason    string         `json:"reason,omitempty"`
	Requester string         `json:"requester"`
	EntityID  string         `json:"entity_id"`
	OwnerID   string         `json:"owner_id,omitempty"`
	State     resource.State `json:"state"`
	Remaining time.Duration  `json:"remaining"`
}
