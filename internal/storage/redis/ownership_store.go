package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/goodtune/quotakeeper/internal/storage"
	"github.com/redis/go-redis/v9"
)

type ownershipStore struct {
	client *redis.Client
	keys   keyspace
}

// Assign records ownerID as the owner of entityID
func (s *ownershipStore) Assign(ctx context.Context, entityID, ownerID string) error {
	keys := []string{s.keys.entityOwner(), s.keys.owners(), s.keys.ownerEntities(ownerID)}
	if err := assignOwner.Run(ctx, s.client, keys, entityID, ownerID, s.keys.ownerEntitiesPrefix()).Err(); err != nil {
		return fmt.Errorf("failed to assign %s to %s: %w", entityID, ownerID, err)
	}
	return nil
}

// Release removes an entity from the directory
func (s *ownershipStore) Release(ctx context.Context, entityID string) error {
	removed, err := releaseEntity.Run(ctx, s.client, []string{s.keys.entityOwner()}, entityID, s.keys.ownerEntitiesPrefix()).Int()
	if err != nil {
		return fmt.Errorf("failed to release %s: %w", entityID, err)
	}
	if removed == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// OwnerOf returns the owner of an entity
func (s *ownershipStore) OwnerOf(ctx context.Context, entityID string) (string, error) {
	owner, err := s.client.HGet(ctx, s.keys.entityOwner(), entityID).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return owner, nil
}

// EntitiesOf lists an owner's entities in lexical order
func (s *ownershipStore) EntitiesOf(ctx context.Context, ownerID string) ([]string, error) {
	entities, err := s.client.SMembers(ctx, s.keys.ownerEntities(ownerID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(entities)
	return entities, nil
}

// Owners lists every tracked owner in lexical order
func (s *ownershipStore) Owners(ctx context.Context) ([]string, error) {
	owners, err := s.client.SMembers(ctx, s.keys.owners()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(owners)
	return owners, nil
}
