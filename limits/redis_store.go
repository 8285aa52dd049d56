package limits

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "tollgate:limits:usage"

// Bounds every redis round trip, reservations must never block a cycle.
const DefaultRedisOpTimeout = 250 * time.Millisecond

// Usage lives in a single redis hash (limit name -> usage); reserve and release
// run as Lua scripts so the capacity check and the increment are one atomic step.
var reserveScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local w = tonumber(ARGV[2])
local cap = tonumber(ARGV[3])
if cap >= 0 and cur + w > cap + 1e-9 then
  return {0, tostring(cur)}
end
local nxt = redis.call('HINCRBYFLOAT', KEYS[1], ARGV[1], ARGV[2])
return {1, nxt}
`)

var releaseScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local nxt = cur - tonumber(ARGV[2])
if nxt < 1e-9 then nxt = 0 end
redis.call('HSET', KEYS[1], ARGV[1], tostring(nxt))
return tostring(nxt)
`)

type RedisStore struct {
	client    redis.UniversalClient
	key       string
	opTimeout time.Duration
}

func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key, opTimeout: DefaultRedisOpTimeout}
}

// Connects to addr and checks the connection.
func DialRedisStore(addr, key string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", addr)
	}
	return NewRedisStore(client, key), nil
}

func (s *RedisStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

func (s *RedisStore) Reserve(name string, weight, capacity float64) (bool, float64, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	capArg := capacity
	if IsUnlimited(capacity) {
		capArg = -1
	}
	res, err := reserveScript.Run(ctx, s.client, []string{s.key}, name, weight, capArg).Slice()
	if err != nil {
		return false, 0, errors.Wrapf(err, "reserving %s", name)
	}
	if len(res) != 2 {
		return false, 0, errors.Errorf("unexpected reserve reply %v", res)
	}
	ok, _ := res[0].(int64)
	usage, err := parseRedisFloat(res[1])
	if err != nil {
		return false, 0, err
	}
	return ok == 1, usage, nil
}

func (s *RedisStore) Release(name string, weight float64) (float64, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	res, err := releaseScript.Run(ctx, s.client, []string{s.key}, name, weight).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "releasing %s", name)
	}
	return parseRedisFloat(res)
}

func (s *RedisStore) Set(usage map[string]float64) error {
	ctx, cancel := s.ctx()
	defer cancel()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(usage) > 0 {
			values := make(map[string]interface{}, len(usage))
			for name, u := range usage {
				values[name] = strconv.FormatFloat(u, 'g', -1, 64)
			}
			pipe.HSet(ctx, s.key, values)
		}
		return nil
	})
	return errors.Wrap(err, "replacing limit usage")
}

func (s *RedisStore) Usage() (map[string]float64, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, errors.Wrap(err, "reading limit usage")
	}
	usage := make(map[string]float64, len(raw))
	for name, v := range raw {
		u, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad usage value for %s", name)
		}
		usage[name] = u
	}
	return usage, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseRedisFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseFloat(t, 64)
	case int64:
		return float64(t), nil
	default:
		return 0, errors.Errorf("unexpected redis value %v (%T)", v, v)
	}
}
