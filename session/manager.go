package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

// ErrTooManySessions is returned by Create when the limit is reached
var ErrTooManySessions = errors.New("maximum sessions reached")

const activeSessionsKey = "active_sessions"

// ManagerConfig bounds the registry
type ManagerConfig struct {
	MaxSessions    int
	SessionTimeout time.Duration
	CleanupPeriod  time.Duration
}

// Manager manages all browser clients
type Manager struct {
	clients map[string]*Client
	mu      sync.RWMutex
	redis   *redis.Client
	config  ManagerConfig
	client  ClientConfig
	logger  *slog.Logger
}

// NewManager creates a client registry. redisClient may be nil, in which
// case session metadata is kept in memory only.
func NewManager(cfg ManagerConfig, clientCfg ClientConfig, redisClient *redis.Client) *Manager {
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = time.Minute
	}
	logger := clientCfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		clients: make(map[string]*Client),
		redis:   redisClient,
		config:  cfg,
		client:  clientCfg,
		logger:  logger,
	}
}

// Create registers a client for conn. The caller starts it.
func (sm *Manager) Create(ctx context.Context, conn *websocket.Conn) (*Client, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.clients) >= sm.config.MaxSessions {
		return nil, ErrTooManySessions
	}

	id := uuid.New().String()
	c := NewClient(id, conn, sm.client)
	c.OnStatus = sm.recordStatus

	sm.clients[id] = c
	sm.storeSession(ctx, c)
	return c, nil
}

// storeSession saves client metadata to Redis
func (sm *Manager) storeSession(ctx context.Context, c *Client) {
	if sm.redis == nil {
		return
	}
	key := "session:" + c.ID
	pipe := sm.redis.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"created_at":    c.CreatedAt.Format(time.RFC3339),
		"last_activity": c.LastActivity().Format(time.RFC3339),
		"status":        StateIdle.String(),
	})
	pipe.SAdd(ctx, activeSessionsKey, c.ID)
	pipe.Expire(ctx, key, sm.config.SessionTimeout)
	if _, err := pipe.Exec(ctx); err != nil {
		sm.logger.Warn("failed to store session metadata", "client_id", c.ID, "error", err)
	}
}

func (sm *Manager) recordStatus(id string, st Status) {
	if sm.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := "session:" + id
	pipe := sm.redis.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"status":        st.State.String(),
		"message":       st.Message,
		"last_activity": time.Now().Format(time.RFC3339),
	})
	pipe.Expire(ctx, key, sm.config.SessionTimeout)
	if _, err := pipe.Exec(ctx); err != nil {
		sm.logger.Warn("failed to update session metadata", "client_id", id, "error", err)
	}
}

// Get retrieves a client by ID
func (sm *Manager) Get(id string) (*Client, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	c, exists := sm.clients[id]
	return c, exists
}

// Remove closes and forgets a client
func (sm *Manager) Remove(ctx context.Context, id string) error {
	sm.mu.Lock()
	c, exists := sm.clients[id]
	delete(sm.clients, id)
	sm.mu.Unlock()

	if !exists {
		return nil
	}
	c.Close()
	sm.forget(ctx, id)
	return nil
}

func (sm *Manager) forget(ctx context.Context, id string) {
	if sm.redis == nil {
		return
	}
	sm.redis.Del(ctx, "session:"+id)
	sm.redis.SRem(ctx, activeSessionsKey, id)
}

// Count returns the number of connected clients
func (sm *Manager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.clients)
}

// CleanupInactive closes clients idle for longer than the session timeout
func (sm *Manager) CleanupInactive(ctx context.Context) int {
	now := time.Now()

	sm.mu.Lock()
	var stale []*Client
	for id, c := range sm.clients {
		if now.Sub(c.LastActivity()) > sm.config.SessionTimeout {
			stale = append(stale, c)
			delete(sm.clients, id)
		}
	}
	sm.mu.Unlock()

	for _, c := range stale {
		sm.logger.Info("closing inactive session", "client_id", c.ID)
		c.Close()
		sm.forget(ctx, c.ID)
	}
	return len(stale)
}

// StartCleanupRoutine starts periodic cleanup of inactive clients
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(sm.config.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactive(ctx)
		}
	}
}

// Shutdown closes all clients
func (sm *Manager) Shutdown(ctx context.Context) {
	sm.mu.Lock()
	clients := sm.clients
	sm.clients = make(map[string]*Client)
	sm.mu.Unlock()

	for id, c := range clients {
		c.Close()
		sm.forget(ctx, id)
	}
}
