package forecasting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"pharmacore/m/domain"
)

// ModelKey identifies the single live model of a target within a pharmacy.
type ModelKey struct {
	PharmacyID int64
	Kind       domain.TargetKind
	TargetID   string
}

// Filename is deterministic in the key; characters outside [A-Za-z0-9._-]
// in the target id become underscores.
func (k ModelKey) Filename() string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, k.TargetID)
	return fmt.Sprintf("%s_%d_%s.json", k.Kind, k.PharmacyID, safe)
}

// Store persists opaque model blobs. Load returns ErrModelNotFound for an
// absent key. Concurrent writers to one key are last-write-wins.
type Store interface {
	Load(ctx context.Context, key ModelKey) ([]byte, error)
	Save(ctx context.Context, key ModelKey, blob []byte) error
	Delete(ctx context.Context, key ModelKey) error
}

// FileStore keeps one file per key in a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(key ModelKey) string {
	return filepath.Join(s.dir, key.Filename())
}

func (s *FileStore) Load(_ context.Context, key ModelKey) ([]byte, error) {
	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrModelNotFound
	}
	return b, err
}

// Save writes through a temporary file and a rename so readers never see a
// partial blob.
func (s *FileStore) Save(_ context.Context, key ModelKey, blob []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	tmp := filepath.Join(s.dir, "."+key.Filename()+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit model: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, key ModelKey) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RedisStore shares model blobs between server instances.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "pharmacore:model:"}
}

func (s *RedisStore) Load(ctx context.Context, key ModelKey) ([]byte, error) {
	b, err := s.client.Get(ctx, s.prefix+key.Filename()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get model: %w", err)
	}
	return b, nil
}

func (s *RedisStore) Save(ctx context.Context, key ModelKey, blob []byte) error {
	if err := s.client.Set(ctx, s.prefix+key.Filename(), blob, 0).Err(); err != nil {
		return fmt.Errorf("redis set model: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key ModelKey) error {
	return s.client.Del(ctx, s.prefix+key.Filename()).Err()
}
