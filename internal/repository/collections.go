// Package repository holds the ledger snapshot backends. Every backend stores
// the four ledger collections wholesale and records the mutation's events
// atomically with them.
package repository

import (
	"encoding/json"
	"fmt"

	"charityledger/internal/model"
)

// Collection names as persisted.
const (
	CollectionProjects          = "projects"
	CollectionEscrowDonations   = "escrow_donations"
	CollectionCommunityPosts    = "community_posts"
	CollectionUserVerifications = "user_verifications"
)

var collectionNames = []string{
	CollectionProjects,
	CollectionEscrowDonations,
	CollectionCommunityPosts,
	CollectionUserVerifications,
}

type collection struct {
	name string
	data []byte
}

// encodeCollections splits a snapshot into its JSON encoded collections.
// Nil collections are written as empty ones.
func encodeCollections(snap *model.Snapshot) ([]collection, error) {
	values := map[string]any{
		CollectionProjects:          nonNil(snap.Projects),
		CollectionEscrowDonations:   nonNil(snap.EscrowDonations),
		CollectionCommunityPosts:    nonNil(snap.CommunityPosts),
		CollectionUserVerifications: snap.UserVerifications,
	}
	if snap.UserVerifications == nil {
		values[CollectionUserVerifications] = map[string][]string{}
	}

	out := make([]collection, 0, len(collectionNames))
	for _, name := range collectionNames {
		data, err := json.Marshal(values[name])
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", name, err)
		}
		out = append(out, collection{name: name, data: data})
	}
	return out, nil
}

// decodeCollection fills the matching field of snap. Unknown names are ignored.
func decodeCollection(snap *model.Snapshot, name string, data []byte) error {
	var target any
	switch name {
	case CollectionProjects:
		target = &snap.Projects
	case CollectionEscrowDonations:
		target = &snap.EscrowDonations
	case CollectionCommunityPosts:
		target = &snap.CommunityPosts
	case CollectionUserVerifications:
		target = &snap.UserVerifications
	default:
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
