package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/serroba/meet-sync/internal/message"
	"github.com/serroba/meet-sync/internal/permission"
)

// RedisStore persists room state in redis as JSON values.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig holds configuration for creating a redis store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// TTL expires saved state after inactivity. Zero means keep forever.
	TTL time.Duration
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, ttl: cfg.TTL}, nil
}

// Close closes the redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func whiteboardKey(roomID string) string {
	return fmt.Sprintf("room:%s:whiteboard", roomID)
}

func notesKey(roomID string) string {
	return fmt.Sprintf("room:%s:notes", roomID)
}

func permissionsKey(roomID string) string {
	return fmt.Sprintf("room:%s:permissions", roomID)
}

// SaveWhiteboard persists a full whiteboard snapshot.
func (r *RedisStore) SaveWhiteboard(ctx context.Context, roomID string, snapshot []message.Record) error {
	return r.setJSON(ctx, whiteboardKey(roomID), snapshot)
}

// LoadWhiteboard retrieves the latest whiteboard snapshot.
func (r *RedisStore) LoadWhiteboard(ctx context.Context, roomID string) ([]message.Record, error) {
	var snapshot []message.Record
	if err := r.getJSON(ctx, whiteboardKey(roomID), &snapshot); err != nil {
		return nil, err
	}

	return snapshot, nil
}

// SaveNotes persists the full notes document.
func (r *RedisStore) SaveNotes(ctx context.Context, roomID string, content json.RawMessage) error {
	return r.setJSON(ctx, notesKey(roomID), content)
}

// LoadNotes retrieves the latest notes document.
func (r *RedisStore) LoadNotes(ctx context.Context, roomID string) (json.RawMessage, error) {
	var content json.RawMessage
	if err := r.getJSON(ctx, notesKey(roomID), &content); err != nil {
		return nil, err
	}

	return content, nil
}

// SavePermissions persists the room's permission state.
func (r *RedisStore) SavePermissions(ctx context.Context, roomID string, snap permission.Snapshot) error {
	return r.setJSON(ctx, permissionsKey(roomID), snap)
}

// LoadPermissions retrieves the room's permission state.
func (r *RedisStore) LoadPermissions(ctx context.Context, roomID string) (permission.Snapshot, error) {
	var snap permission.Snapshot
	if err := r.getJSON(ctx, permissionsKey(roomID), &snap); err != nil {
		return permission.Snapshot{}, err
	}

	return snap, nil
}

func (r *RedisStore) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, key, data, r.ttl).Err()
}

func (r *RedisStore) getJSON(ctx context.Context, key string, v any) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}

	if err != nil {
		return err
	}

	return json.Unmarshal(data, v)
}

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
