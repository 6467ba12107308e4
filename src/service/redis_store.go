package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/callrelay/src/mailbox"
	"github.com/redis/go-redis/v9"
)

// DefaultRecordTTL is how long an idle call's records survive in redis.
const DefaultRecordTTL = 24 * time.Hour

// RedisStore implements mailbox.Board on redis. Records of a call are kept in
// one list per type; a set per call tracks the types in use so that Purge can
// find them. Every key lives under prefix.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to addr and checks the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		rdb:    rdb,
		prefix: prefix,
		ttl:    DefaultRecordTTL,
	}, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *RedisStore) recordsKey(callID string, t mailbox.Type) string {
	return s.key("records", callID, string(t))
}

// Append implements mailbox.Board
func (s *RedisStore) Append(ctx context.Context, rec mailbox.Record) (mailbox.Record, error) {
	id, err := s.rdb.Incr(ctx, s.key("seq")).Result()
	if err != nil {
		return mailbox.Record{}, err
	}
	rec.ID = id

	data, err := json.Marshal(rec)
	if err != nil {
		return mailbox.Record{}, err
	}

	listKey := s.recordsKey(rec.CallID, rec.Type)
	typesKey := s.key("types", rec.CallID)

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, listKey, data)
		pipe.Expire(ctx, listKey, s.ttl)
		pipe.SAdd(ctx, typesKey, string(rec.Type))
		pipe.Expire(ctx, typesKey, s.ttl)
		if callee := rings(rec); callee != "" {
			pipe.SAdd(ctx, s.key("inbox", callee), rec.CallID)
		}
		return nil
	})
	if err != nil {
		return mailbox.Record{}, err
	}

	return rec, nil
}

func (s *RedisStore) list(ctx context.Context, callID string, t mailbox.Type) ([]mailbox.Record, error) {
	raw, err := s.rdb.LRange(ctx, s.recordsKey(callID, t), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	res := make([]mailbox.Record, 0, len(raw))
	for _, r := range raw {
		var rec mailbox.Record
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}

	return res, nil
}

// List implements mailbox.Board
func (s *RedisStore) List(ctx context.Context, callID string, t mailbox.Type, forUser string) ([]mailbox.Record, error) {
	records, err := s.list(ctx, callID, t)
	if err != nil {
		return nil, err
	}

	return mailbox.Filter(records, forUser), nil
}

// Inbox implements mailbox.Board. Calls whose records were purged are
// dropped from the inbox set lazily.
func (s *RedisStore) Inbox(ctx context.Context, user string) ([]mailbox.Record, error) {
	inboxKey := s.key("inbox", user)

	calls, err := s.rdb.SMembers(ctx, inboxKey).Result()
	if err != nil {
		return nil, err
	}

	res := []mailbox.Record{}
	for _, callID := range calls {
		n, err := s.rdb.Exists(ctx, s.key("types", callID)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			s.rdb.SRem(ctx, inboxKey, callID)
			continue
		}

		for _, t := range []mailbox.Type{mailbox.TypeOffer, mailbox.TypeOffer.Meta(), mailbox.TypeSessionKey} {
			records, err := s.list(ctx, callID, t)
			if err != nil {
				return nil, err
			}
			for _, r := range records {
				if mailbox.InboxMatch(r, user) {
					res = append(res, r)
				}
			}
		}
	}

	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })

	return res, nil
}

// Purge implements mailbox.Board
func (s *RedisStore) Purge(ctx context.Context, callID string) error {
	typesKey := s.key("types", callID)

	types, err := s.rdb.SMembers(ctx, typesKey).Result()
	if err != nil {
		return err
	}

	keys := []string{typesKey}
	for _, t := range types {
		keys = append(keys, s.recordsKey(callID, mailbox.Type(t)))
	}

	return s.rdb.Del(ctx, keys...).Err()
}

// Join implements mailbox.Board
func (s *RedisStore) Join(ctx context.Context, callID, user string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.key("roster", callID), user)
		pipe.SRem(ctx, s.key("invitations", user), callID)
		return nil
	})
	return err
}

// Leave implements mailbox.Board
func (s *RedisStore) Leave(ctx context.Context, callID, user string) error {
	return s.rdb.SRem(ctx, s.key("roster", callID), user).Err()
}

// Participants implements mailbox.Board
func (s *RedisStore) Participants(ctx context.Context, callID string) ([]string, error) {
	roster, err := s.rdb.SMembers(ctx, s.key("roster", callID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(roster)
	return roster, nil
}

// CreateGroup implements mailbox.Board
func (s *RedisStore) CreateGroup(ctx context.Context, creator string, members []string, material string) (string, error) {
	callID := mailbox.GroupPrefix + uuid.New().String()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key("group", callID),
			"creator", creator,
			"material", material,
			"created_at", time.Now().Unix())
		for _, m := range mailbox.UniqueMembers(creator, members) {
			if m != creator {
				pipe.SAdd(ctx, s.key("invitations", m), callID)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return callID, nil
}

// SessionKey implements mailbox.Board
func (s *RedisStore) SessionKey(ctx context.Context, callID string) (string, error) {
	material, err := s.rdb.HGet(ctx, s.key("group", callID), "material").Result()
	if err == redis.Nil || (err == nil && material == "") {
		return "", mailbox.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return material, nil
}

// Invitations implements mailbox.Board
func (s *RedisStore) Invitations(ctx context.Context, user string) ([]string, error) {
	calls, err := s.rdb.SMembers(ctx, s.key("invitations", user)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(calls)
	return calls, nil
}

// SetPublicKey implements mailbox.Board
func (s *RedisStore) SetPublicKey(ctx context.Context, user, pem string) error {
	return s.rdb.HSet(ctx, s.key("pubkeys"), user, pem).Err()
}

// PublicKey implements mailbox.Board
func (s *RedisStore) PublicKey(ctx context.Context, user string) (string, error) {
	pem, err := s.rdb.HGet(ctx, s.key("pubkeys"), user).Result()
	if err == redis.Nil {
		return "", mailbox.ErrNotFound
	}
	return pem, err
}
