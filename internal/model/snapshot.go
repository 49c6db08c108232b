package model

import (
	"encoding/json"
	"time"
)

// Snapshot is the whole persisted ledger: four collections loaded and
// rewritten wholesale.
type Snapshot struct {
	Projects          []Project           `json:"projects"`
	EscrowDonations   []EscrowDonation    `json:"escrow_donations"`
	CommunityPosts    []CommunityPost     `json:"community_posts"`
	UserVerifications map[string][]string `json:"user_verifications"` // verifier id -> milestone ids
}

// Event is a domain event committed together with a snapshot write.
type Event struct {
	RoutingKey string          `json:"routing_key"`
	ProjectID  string          `json:"project_id"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func NewEvent(routingKey, projectID string, payload any, at time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{RoutingKey: routingKey, ProjectID: projectID, Payload: raw, OccurredAt: at}, nil
}
