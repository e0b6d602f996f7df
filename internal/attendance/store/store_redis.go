package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"presence/internal/attendance/models"
	id "presence/pkg/domain"
	"presence/pkg/platform/sentinel"
)

const (
	sessionKeyPrefix     = "att:sess:"
	employeeDayKeyPrefix = "att:emp-day:"
	dayKeyPrefix         = "att:day:"

	defaultMaxTxRetries = 8
)

// RedisStore keeps each session as JSON under att:sess:{id} and indexes it in
// two sets: att:emp-day:{employee}:{day} and att:day:{day}. Conditional writes
// use WATCH on the keys they read and retry on redis.TxFailedErr.
type RedisStore struct {
	client     *redis.Client
	maxRetries int
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithMaxTxRetries bounds optimistic transaction retries.
func WithMaxTxRetries(n int) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// sessionReader is satisfied by both *redis.Client and *redis.Tx.
type sessionReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, maxRetries: defaultMaxTxRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sessionKey(sessionID id.SessionID) string {
	return sessionKeyPrefix + sessionID.String()
}

func employeeDaySetKey(employeeID id.EmployeeID, day id.DayKey) string {
	return employeeDayKeyPrefix + employeeID.String() + ":" + day.String()
}

func daySetKey(day id.DayKey) string {
	return dayKeyPrefix + day.String()
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, session *models.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	empDay := employeeDaySetKey(session.EmployeeID, session.DayKey)
	sessKey := sessionKey(session.ID)

	return s.withRetry(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, sessKey).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return sentinel.ErrConflict
		}
		if session.IsOpen() {
			existing, err := s.loadSet(ctx, tx, empDay)
			if err != nil {
				return err
			}
			if models.LatestOpen(existing) != nil {
				return sentinel.ErrConflict
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sessKey, payload, 0)
			pipe.SAdd(ctx, empDay, session.ID.String())
			pipe.SAdd(ctx, daySetKey(session.DayKey), session.ID.String())
			return nil
		})
		return err
	}, empDay, sessKey)
}

// Import writes sessions without the open-session check.
func (s *RedisStore) Import(ctx context.Context, sessions ...*models.Session) error {
	pipe := s.client.TxPipeline()
	for _, session := range sessions {
		payload, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		pipe.Set(ctx, sessionKey(session.ID), payload, 0)
		pipe.SAdd(ctx, employeeDaySetKey(session.EmployeeID, session.DayKey), session.ID.String())
		pipe.SAdd(ctx, daySetKey(session.DayKey), session.ID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("import sessions: %w", err)
	}
	return nil
}

func (s *RedisStore) UpdateIfOpen(ctx context.Context, session *models.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	sessKey := sessionKey(session.ID)

	return s.withRetry(ctx, func(tx *redis.Tx) error {
		if _, err := s.loadOpen(ctx, tx, sessKey); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sessKey, payload, 0)
			return nil
		})
		return err
	}, sessKey)
}

func (s *RedisStore) DeleteIfOpen(ctx context.Context, sessionID id.SessionID) error {
	sessKey := sessionKey(sessionID)

	return s.withRetry(ctx, func(tx *redis.Tx) error {
		stored, err := s.loadOpen(ctx, tx, sessKey)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, sessKey)
			pipe.SRem(ctx, employeeDaySetKey(stored.EmployeeID, stored.DayKey), sessionID.String())
			pipe.SRem(ctx, daySetKey(stored.DayKey), sessionID.String())
			return nil
		})
		return err
	}, sessKey)
}

func (s *RedisStore) QueryByEmployeeAndDay(ctx context.Context, employeeID id.EmployeeID, day id.DayKey) ([]*models.Session, error) {
	sessions, err := s.loadSet(ctx, s.client, employeeDaySetKey(employeeID, day))
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	sortSessions(sessions)
	return sessions, nil
}

func (s *RedisStore) ListOpenByDay(ctx context.Context, day id.DayKey) ([]*models.Session, error) {
	sessions, err := s.loadSet(ctx, s.client, daySetKey(day))
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	open := sessions[:0]
	for _, session := range sessions {
		if session.IsOpen() {
			open = append(open, session)
		}
	}
	sortSessions(open)
	return open, nil
}

// withRetry runs fn under WATCH keys, retrying when another client modified
// a watched key before EXEC.
func (s *RedisStore) withRetry(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for range s.maxRetries {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, sentinel.ErrConflict) && !errors.Is(err, sentinel.ErrNotFound) {
			return fmt.Errorf("redis session transaction: %w", err)
		}
		return err
	}
	return fmt.Errorf("redis session transaction: %w", sentinel.ErrUnavailable)
}

func (s *RedisStore) loadOpen(ctx context.Context, c sessionReader, key string) (*models.Session, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var stored models.Session
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if !stored.IsOpen() {
		return nil, sentinel.ErrConflict
	}
	return &stored, nil
}

// loadSet reads every session referenced by an index set. Members whose
// session key vanished are skipped.
func (s *RedisStore) loadSet(ctx context.Context, c sessionReader, setKey string) ([]*models.Session, error) {
	members, err := c.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = sessionKeyPrefix + m
	}
	values, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*models.Session, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var session models.Session
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		out = append(out, &session)
	}
	return out, nil
}
