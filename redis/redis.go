package redis

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"

	"crossrelay/types"
)

// one set per relay status holding the keys of its operations
var RedisStatusSets = map[string]string{
	types.StatusPending: "relayops:pending", // lock acquired, payout being sent
	types.StatusSuccess: "relayops:success", // payout receipt confirmed with success status
	types.StatusFailed:  "relayops:failed",  // payout failed or reverted, nothing refunded
	types.StatusSkipped: "relayops:skipped", // deposit needed no payout (ADD, unknown operation)
}

// Journal records relay operations in redis
type Journal struct {
	pool *redis.Pool
}

func timeoutDialOptions() []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

func New(addr string) *Journal {
	return &Journal{pool: &redis.Pool{
		MaxIdle: 5,
		Dial:    func() (redis.Conn, error) { return redis.Dial("tcp", addr, timeoutDialOptions()...) },
	}}
}

func (j *Journal) Close() error {
	return j.pool.Close()
}

func (j *Journal) Ping() error {
	conn := j.pool.Get()
	defer conn.Close()

	_, err := conn.Do("PING")
	return err
}

func recordKey(status, id string) string {
	return fmt.Sprintf("relayop:%s:%s", status, id)
}

func validate(op *types.RelayOperation) error {
	if op == nil {
		return errors.New("null object to store")
	}
	if op.Status == "" {
		return errors.New("relay operation cannot have empty status")
	}
	if _, ok := RedisStatusSets[op.Status]; !ok {
		return fmt.Errorf("unknown relay operation status %q", op.Status)
	}
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	return nil
}

// note that multiple sets should not contain one operation
func (j *Journal) UpsertRelayOperation(op *types.RelayOperation) error {
	if err := validate(op); err != nil {
		return err
	}

	conn := j.pool.Get()
	defer conn.Close()

	key := recordKey(op.Status, op.ID)
	opJSON, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("cannot marshal relay operation to JSON: %w", err)
	}

	if _, err = conn.Do("SET", key, opJSON); err != nil {
		return fmt.Errorf("redis SET: %w", err)
	}
	// also add the key to the corresponding SET
	if _, err = conn.Do("SADD", RedisStatusSets[op.Status], key); err != nil {
		return fmt.Errorf("redis SADD: %w", err)
	}
	return nil
}

func (j *Journal) ChangeRelayOperationStatus(op *types.RelayOperation, prevStatus string) error {
	if err := validate(op); err != nil {
		return err
	}
	if _, ok := RedisStatusSets[prevStatus]; !ok {
		return fmt.Errorf("unknown relay operation status %q", prevStatus)
	}

	conn := j.pool.Get()
	defer conn.Close()

	prevKey := recordKey(prevStatus, op.ID)
	key := recordKey(op.Status, op.ID)
	opJSON, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("cannot marshal relay operation to JSON: %w", err)
	}

	// applied atomically so a reader never sees the operation in two sets
	conn.Send("MULTI")
	conn.Send("SREM", RedisStatusSets[prevStatus], prevKey)
	conn.Send("DEL", prevKey)
	conn.Send("SET", key, opJSON)
	conn.Send("SADD", RedisStatusSets[op.Status], key)
	if _, err = conn.Do("EXEC"); err != nil {
		return fmt.Errorf("redis EXEC: %w", err)
	}
	return nil
}

func (j *Journal) scanStatus(status string, match func(op *types.RelayOperation) bool) ([]*types.RelayOperation, error) {
	set, ok := RedisStatusSets[status]
	if !ok {
		return nil, errors.New("redis key not found for status")
	}

	conn := j.pool.Get()
	defer conn.Close()

	ops := make([]*types.RelayOperation, 0)
	var cursor int64
	for {
		values, err := redis.Values(conn.Do("SSCAN", set, cursor))
		if err != nil {
			return nil, err
		}

		var opKeys []string
		if _, err = redis.Scan(values, &cursor, &opKeys); err != nil {
			return nil, err
		}

		for _, key := range opKeys {
			raw, err := redis.Bytes(conn.Do("GET", key))
			if errors.Is(err, redis.ErrNil) {
				// removed between SSCAN and GET
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("redis GET: %w", err)
			}

			var op types.RelayOperation
			if err = json.Unmarshal(raw, &op); err != nil {
				return nil, err
			}
			if match(&op) {
				ops = append(ops, &op)
			}
		}

		if cursor == 0 {
			break
		}
	}
	return ops, nil
}

func (j *Journal) FindAllRelayOperationsByStatus(status string) ([]*types.RelayOperation, error) {
	return j.scanStatus(status, func(op *types.RelayOperation) bool { return op.Status == status })
}

// Attention, this scans every status set; O(n) in the number of journaled operations
func (j *Journal) FindRelayOperationsBySourceTxHash(txHash string) ([]*types.RelayOperation, error) {
	if txHash == "" {
		return nil, errors.New("empty source tx hash")
	}

	var found []*types.RelayOperation
	for status := range RedisStatusSets {
		ops, err := j.scanStatus(status, func(op *types.RelayOperation) bool { return op.SourceTxHash == txHash })
		if err != nil {
			return nil, err
		}
		found = append(found, ops...)
	}
	return found, nil
}
