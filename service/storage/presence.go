package storage

import (
	"context"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Key layout (one pair per tenant):
//
//	online:tenant:<id>       SET  user ids currently online
//	online:tenant:<id>:refs  HASH user id -> number of gateway nodes holding a socket for it
const keyPrefix = "online:tenant:"

// Acquire: called by a node when its local socket count for the user goes 0 -> 1.
// KEYS[1] = online set, KEYS[2] = refs hash, ARGV[1] = user id
// 返回：1 = user became online cluster-wide, 0 = another node already had the user
const luaAcquire = `
local n = redis.call("HINCRBY", KEYS[2], ARGV[1], 1)
redis.call("SADD", KEYS[1], ARGV[1])
if n == 1 then
  return 1
end
return 0
`

// Release: called by a node when its local socket count for the user goes 1 -> 0.
// 返回：1 = user went offline cluster-wide, 0 = still held by another node
const luaRelease = `
local n = redis.call("HINCRBY", KEYS[2], ARGV[1], -1)
if n <= 0 then
  redis.call("HDEL", KEYS[2], ARGV[1])
  redis.call("SREM", KEYS[1], ARGV[1])
  return 1
end
return 0
`

// PresenceStore is the cluster-shared record of online user ids per tenant.
type PresenceStore struct {
	rdb        redis.UniversalClient
	luaAcquire *redis.Script
	luaRelease *redis.Script
}

func NewPresenceStore(rdb redis.UniversalClient) *PresenceStore {
	return &PresenceStore{
		rdb:        rdb,
		luaAcquire: redis.NewScript(luaAcquire),
		luaRelease: redis.NewScript(luaRelease),
	}
}

func OnlineKey(tenantID int64) string {
	return keyPrefix + strconv.FormatInt(tenantID, 10)
}

func refsKey(tenantID int64) string {
	return OnlineKey(tenantID) + ":refs"
}

// MarkOnline records that this node now holds the user. The bool reports whether the
// user was offline on every node before.
func (s *PresenceStore) MarkOnline(ctx context.Context, tenantID, userID int64) (bool, error) {
	rc, err := s.luaAcquire.Run(ctx, s.rdb,
		[]string{OnlineKey(tenantID), refsKey(tenantID)},
		strconv.FormatInt(userID, 10),
	).Int64()
	if err != nil {
		return false, errors.Wrapf(err, "presence online tenant=%d user=%d", tenantID, userID)
	}
	return rc == 1, nil
}

// MarkOffline releases this node's hold on the user. The bool reports whether no node
// holds the user any more.
func (s *PresenceStore) MarkOffline(ctx context.Context, tenantID, userID int64) (bool, error) {
	rc, err := s.luaRelease.Run(ctx, s.rdb,
		[]string{OnlineKey(tenantID), refsKey(tenantID)},
		strconv.FormatInt(userID, 10),
	).Int64()
	if err != nil {
		return false, errors.Wrapf(err, "presence offline tenant=%d user=%d", tenantID, userID)
	}
	return rc == 1, nil
}

// OnlineUsers returns the tenant's online user ids in ascending order.
func (s *PresenceStore) OnlineUsers(ctx context.Context, tenantID int64) ([]int64, error) {
	members, err := s.rdb.SMembers(ctx, OnlineKey(tenantID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "presence members tenant=%d", tenantID)
	}
	out := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *PresenceStore) IsOnline(ctx context.Context, tenantID, userID int64) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, OnlineKey(tenantID), strconv.FormatInt(userID, 10)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "presence ismember tenant=%d user=%d", tenantID, userID)
	}
	return ok, nil
}

// ClearAll drops every presence key. Run once at cluster start to discard state
// stranded by an unclean shutdown. Returns the number of keys removed.
func (s *PresenceStore) ClearAll(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, keyPrefix+"*", 200).Result()
		if err != nil {
			return removed, errors.Wrap(err, "presence scan")
		}
		if len(keys) > 0 {
			n, err := s.rdb.Unlink(ctx, keys...).Result()
			if err != nil {
				return removed, errors.Wrap(err, "presence unlink")
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
