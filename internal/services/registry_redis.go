package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	presenceKeyPrefix = "pairchat:presence:"
	broadcastChannel  = "pairchat:broadcast"
	redisOpTimeout    = 3 * time.Second

	// PresenceTTL bounds how long a crashed node's users stay visible
	PresenceTTL = 60 * time.Second
	// presenceRefresh renews live entries well before they expire
	presenceRefresh = PresenceTTL / 3
)

func presenceKey(userID string) string {
	return presenceKeyPrefix + userID
}

func nodeChannel(nodeID string) string {
	return "pairchat:node:" + nodeID
}

// Claims the presence entry and returns the previous owner, if any.
// KEYS[1] = presence key, ARGV[1] = node id, ARGV[2] = ttl seconds
var registerScript = redis.NewScript(`
local previous = redis.call("GET", KEYS[1])
redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[2])
return previous
`)

// Deletes the presence entry only while it still points at this node.
// KEYS[1] = presence key, ARGV[1] = node id
var unregisterScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Extends the presence entry only while it still points at this node.
// KEYS[1] = presence key, ARGV[1] = node id, ARGV[2] = ttl seconds
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("EXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// envelope is the pub/sub payload exchanged between nodes
type envelope struct {
	Origin  string    `json:"origin"`
	UserID  string    `json:"user_id,omitempty"`
	Except  string    `json:"except,omitempty"`
	Kick    bool      `json:"kick,omitempty"`
	Message WSMessage `json:"message"`
}

// RedisRegistry is a multi-node Registry. Connections stay local to the node
// that accepted them. A per-user key with a TTL records which node owns each
// user, and events for remote users are published to the owning node's
// channel. Live entries are renewed while the node runs, so the users of a
// node that died without Close go offline once their keys expire.
type RedisRegistry struct {
	local  *MemoryRegistry
	client *redis.Client
	nodeID string
	pubsub *redis.PubSub
	done   chan struct{}
	stop   chan struct{}
	halted chan struct{}
}

// NewRedisRegistry creates a registry for nodeID. Call Start before use.
func NewRedisRegistry(client *redis.Client, nodeID string) *RedisRegistry {
	return &RedisRegistry{
		local:  NewMemoryRegistry(),
		client: client,
		nodeID: nodeID,
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
		halted: make(chan struct{}),
	}
}

// Start subscribes to this node's channel and the broadcast channel and
// begins renewing presence entries
func (r *RedisRegistry) Start(ctx context.Context) error {
	r.pubsub = r.client.Subscribe(ctx, nodeChannel(r.nodeID), broadcastChannel)
	if _, err := r.pubsub.Receive(ctx); err != nil {
		r.pubsub.Close()
		r.pubsub = nil
		return fmt.Errorf("failed to subscribe to registry channels: %w", err)
	}

	go r.consume(r.pubsub.Channel())
	go r.heartbeat()

	log.Info().Str("node_id", r.nodeID).Msg("Redis registry started")
	return nil
}

// Close drops this node's presence entries and stops the subscription
func (r *RedisRegistry) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if r.pubsub != nil {
		close(r.stop)
		<-r.halted
	}

	for _, userID := range r.local.OnlineUserIDs() {
		if err := unregisterScript.Run(ctx, r.client, []string{presenceKey(userID)}, r.nodeID).Err(); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Failed to clear presence")
		}
	}

	if r.pubsub == nil {
		return nil
	}
	err := r.pubsub.Close()
	<-r.done
	return err
}

// heartbeat renews this node's presence entries until Close
func (r *RedisRegistry) heartbeat() {
	defer close(r.halted)

	ticker := time.NewTicker(presenceRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.refresh()
		}
	}
}

// refresh extends the TTL of every user connected to this node. An entry
// that expired in the meantime is claimed again.
func (r *RedisRegistry) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	ttl := int(PresenceTTL / time.Second)
	for _, userID := range r.local.OnlineUserIDs() {
		key := presenceKey(userID)
		renewed, err := refreshScript.Run(ctx, r.client, []string{key}, r.nodeID, ttl).Int()
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Failed to refresh presence")
			continue
		}
		if renewed == 1 {
			continue
		}
		if err := r.client.SetNX(ctx, key, r.nodeID, PresenceTTL).Err(); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Failed to restore presence")
		}
	}
}

// Register implements Registry
func (r *RedisRegistry) Register(userID string, conn Conn) Conn {
	previous := r.local.Register(userID, conn)

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	owner, err := registerScript.Run(ctx, r.client, []string{presenceKey(userID)}, r.nodeID, int(PresenceTTL/time.Second)).Text()
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to store presence")
	}

	// Last writer wins across nodes too
	if owner != "" && owner != r.nodeID {
		r.publish(ctx, nodeChannel(owner), envelope{Origin: r.nodeID, UserID: userID, Kick: true})
	}

	return previous
}

// Lookup implements Registry
func (r *RedisRegistry) Lookup(userID string) (Conn, bool) {
	if conn, ok := r.local.Lookup(userID); ok {
		return conn, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	owner, err := r.client.Get(ctx, presenceKey(userID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("user_id", userID).Msg("Failed to read presence")
		}
		return nil, false
	}
	if owner == r.nodeID {
		// stale entry left behind by this node
		return nil, false
	}

	return &remoteConn{registry: r, userID: userID, nodeID: owner}, true
}

// Unregister implements Registry
func (r *RedisRegistry) Unregister(userID string, conn Conn) bool {
	if _, ok := conn.(*remoteConn); ok {
		return false
	}
	if !r.local.Unregister(userID, conn) {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := unregisterScript.Run(ctx, r.client, []string{presenceKey(userID)}, r.nodeID).Err(); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to clear presence")
	}
	return true
}

// Broadcast implements Registry
func (r *RedisRegistry) Broadcast(msg WSMessage, exceptUserID string) {
	r.local.Broadcast(msg, exceptUserID)

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	r.publish(ctx, broadcastChannel, envelope{Origin: r.nodeID, Except: exceptUserID, Message: msg})
}

// OnlineUserIDs implements Registry
func (r *RedisRegistry) OnlineUserIDs() []string {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	var ids []string
	iter := r.client.Scan(ctx, 0, presenceKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), presenceKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		log.Warn().Err(err).Msg("Failed to list presence, falling back to local connections")
		return r.local.OnlineUserIDs()
	}
	sort.Strings(ids)
	return ids
}

// LocalConnections implements Registry
func (r *RedisRegistry) LocalConnections() map[string]Conn {
	return r.local.LocalConnections()
}

func (r *RedisRegistry) publish(ctx context.Context, channel string, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("Failed to publish registry event")
		return fmt.Errorf("failed to publish: %w", err)
	}
	return nil
}

func (r *RedisRegistry) consume(ch <-chan *redis.Message) {
	defer close(r.done)

	for m := range ch {
		var env envelope
		if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
			log.Error().Err(err).Str("channel", m.Channel).Msg("Failed to parse registry event")
			continue
		}
		r.dispatch(m.Channel, env)
	}
}

func (r *RedisRegistry) dispatch(channel string, env envelope) {
	if channel == broadcastChannel {
		if env.Origin != r.nodeID {
			r.local.Broadcast(env.Message, env.Except)
		}
		return
	}

	conn, ok := r.local.Lookup(env.UserID)
	if !ok {
		return
	}

	if env.Kick {
		// the user reconnected on another node; the presence entry already points there
		if r.local.Unregister(env.UserID, conn) {
			conn.Close()
			log.Info().Str("user_id", env.UserID).Str("node_id", env.Origin).Msg("Connection moved to another node")
		}
		return
	}

	if err := conn.Send(env.Message); err != nil {
		log.Warn().Err(err).Str("user_id", env.UserID).Msg("Failed to deliver relayed message")
	}
}

// remoteConn forwards events to a user connected to another node
type remoteConn struct {
	registry *RedisRegistry
	userID   string
	nodeID   string
}

func (c *remoteConn) Send(msg WSMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	return c.registry.publish(ctx, nodeChannel(c.nodeID), envelope{
		Origin:  c.registry.nodeID,
		UserID:  c.userID,
		Message: msg,
	})
}

func (c *remoteConn) Close() error {
	return nil
}
