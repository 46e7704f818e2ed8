package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store loads and saves the whole agent list
type Store interface {
	Load(ctx context.Context) ([]Agent, error)
	Save(ctx context.Context, agents []Agent) error
}

// MemoryStore keeps agents in process memory
type MemoryStore struct {
	mu     sync.Mutex
	agents []Agent
}

func NewMemoryStore(agents ...Agent) *MemoryStore {
	return &MemoryStore{agents: append([]Agent(nil), agents...)}
}

func (s *MemoryStore) Load(context.Context) ([]Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Agent(nil), s.agents...), nil
}

func (s *MemoryStore) Save(_ context.Context, agents []Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = append([]Agent(nil), agents...)
	return nil
}

// DefaultRedisKey holds the agent list document
const DefaultRedisKey = "voicelab:agents"

// RedisStore keeps the agent list as one JSON document
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) ([]Agent, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	var agents []Agent
	if err := sonic.Unmarshal(data, &agents); err != nil {
		return nil, fmt.Errorf("decode agents: %w", err)
	}
	return agents, nil
}

func (s *RedisStore) Save(ctx context.Context, agents []Agent) error {
	if agents == nil {
		agents = []Agent{}
	}
	data, err := sonic.Marshal(agents)
	if err != nil {
		return fmt.Errorf("encode agents: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("save agents: %w", err)
	}
	return nil
}

// Catalog serializes read-modify-write access to a Store.
type Catalog struct {
	store Store
	now   func() time.Time
	mu    sync.Mutex
}

func NewCatalog(store Store) *Catalog {
	return &Catalog{store: store, now: time.Now}
}

// List returns every agent
func (c *Catalog) List(ctx context.Context) ([]Agent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Load(ctx)
}

// Get returns one agent or ErrNotFound.
func (c *Catalog) Get(ctx context.Context, id string) (Agent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	agents, err := c.store.Load(ctx)
	if err != nil {
		return Agent{}, err
	}
	for _, a := range agents {
		if a.ID == id {
			return a, nil
		}
	}
	return Agent{}, ErrNotFound
}

// Put validates and stores a. An empty ID creates a new agent; otherwise the
// existing agent is replaced, keeping its creation time.
func (c *Catalog) Put(ctx context.Context, a Agent) (Agent, error) {
	if err := Validate(a); err != nil {
		return Agent{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	agents, err := c.store.Load(ctx)
	if err != nil {
		return Agent{}, err
	}

	now := c.now().UTC()
	a.UpdatedAt = now

	if a.ID == "" {
		a.ID = uuid.NewString()
		a.CreatedAt = now
		agents = append(agents, a)
	} else {
		found := false
		for i := range agents {
			if agents[i].ID == a.ID {
				a.CreatedAt = agents[i].CreatedAt
				agents[i] = a
				found = true
				break
			}
		}
		if !found {
			return Agent{}, ErrNotFound
		}
	}

	if err := c.store.Save(ctx, agents); err != nil {
		return Agent{}, err
	}
	return a, nil
}

// Delete removes an agent or returns ErrNotFound.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	agents, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	kept := agents[:0]
	for _, a := range agents {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	if len(kept) == len(agents) {
		return ErrNotFound
	}
	return c.store.Save(ctx, kept)
}

// Seed stores the demo agents when the store is empty. It reports whether
// anything was written.
func (c *Catalog) Seed(ctx context.Context) (bool, error) {
	return c.SeedWith(ctx, Defaults())
}

// SeedWith stores agents when the store is empty.
func (c *Catalog) SeedWith(ctx context.Context, seeded []Agent) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	agents, err := c.store.Load(ctx)
	if err != nil {
		return false, err
	}
	if len(agents) > 0 {
		return false, nil
	}

	now := c.now().UTC()
	seeded = append([]Agent(nil), seeded...)
	for i := range seeded {
		seeded[i].CreatedAt = now
		seeded[i].UpdatedAt = now
	}
	if err := c.store.Save(ctx, seeded); err != nil {
		return false, err
	}
	return true, nil
}
