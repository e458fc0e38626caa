// Package storage persists the little state the client keeps between runs:
// collected spot IDs, the registration flag and the backend session cookie.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	keyCollectedSpots = "collected_spot_ids"
	keyRegistered     = "user_registered"
	keyCookies        = "cookies"
)

// CollectedSpots remembers which spots the player has collected.
type CollectedSpots interface {
	CollectedSpotIDs(ctx context.Context) ([]int, bool, error)
	SetCollectedSpotIDs(ctx context.Context, ids []int) error
}

// KeyValue holds session level settings.
type KeyValue interface {
	IsUserRegistered(ctx context.Context) (bool, error)
	SetUserRegistered(ctx context.Context, registered bool) error
	Cookies(ctx context.Context) (string, bool, error)
	// SetCookies stores the session cookie; nil clears it.
	SetCookies(ctx context.Context, cookies *string) error
}

type backend interface {
	get(ctx context.Context, key string) (string, bool, error)
	put(ctx context.Context, key, value string) error
	del(ctx context.Context, key string) error
	close() error
}

// Store implements CollectedSpots and KeyValue over a string key/value backend.
type Store struct {
	b backend
}

func (s *Store) CollectedSpotIDs(ctx context.Context) ([]int, bool, error) {
	raw, ok, err := s.b.get(ctx, keyCollectedSpots)
	if err != nil || !ok {
		return nil, false, err
	}
	var ids []int
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, false, fmt.Errorf("decoding collected spots: %w", err)
	}
	return ids, true, nil
}

func (s *Store) SetCollectedSpotIDs(ctx context.Context, ids []int) error {
	if ids == nil {
		ids = []int{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encoding collected spots: %w", err)
	}
	return s.b.put(ctx, keyCollectedSpots, string(raw))
}

func (s *Store) IsUserRegistered(ctx context.Context) (bool, error) {
	raw, ok, err := s.b.get(ctx, keyRegistered)
	if err != nil || !ok {
		return false, err
	}
	registered, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("decoding registration flag: %w", err)
	}
	return registered, nil
}

func (s *Store) SetUserRegistered(ctx context.Context, registered bool) error {
	return s.b.put(ctx, keyRegistered, strconv.FormatBool(registered))
}

func (s *Store) Cookies(ctx context.Context) (string, bool, error) {
	return s.b.get(ctx, keyCookies)
}

func (s *Store) SetCookies(ctx context.Context, cookies *string) error {
	if cookies == nil {
		return s.b.del(ctx, keyCookies)
	}
	return s.b.put(ctx, keyCookies, *cookies)
}

func (s *Store) Close() error {
	return s.b.close()
}
