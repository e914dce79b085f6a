package livecache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bundl-app/server/internal/metrics"
	"github.com/bundl-app/server/internal/orders"
)

// Pledge reasons returned by the script on rejection. They double as the
// public error codes for the failed-pledge response.
const (
	ReasonNotFound     = "order_not_found"
	ReasonNotActive    = "order_not_active"
	ReasonFullyPledged = "order_fully_pledged"
)

// PledgeResult is the outcome of the scripted pledge.
type PledgeResult struct {
	OK        bool
	Reason    string        // set when OK is false
	Order     *orders.Order // post-pledge snapshot when OK is true
	Completed bool          // the pledge pushed the order over its threshold
}

// pledgeScript runs the whole pledge as one atomic step on the Redis side.
//
// It loads the snapshot, validates state, applies the additive pledge, and
// either writes the snapshot back preserving its remaining TTL or, on
// completion, removes the snapshot, participant set and geo entry in the same
// step. The in-script cleanup is what guarantees a completed order can never
// be returned by a concurrent discovery query.
//
// KEYS[1] snapshot key, KEYS[2] participants key, KEYS[3] geo key.
// ARGV[1] user id, ARGV[2] pledge amount.
// Reply: {ok, reason, updated_json, completed}.
var pledgeScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return {0, 'order_not_found', '', 0}
end

local order = cjson.decode(raw)
if order.status ~= 'ACTIVE' then
  return {0, 'order_not_active', '', 0}
end
if order.totalPledge >= order.amountNeeded then
  return {0, 'order_fully_pledged', '', 0}
end

local user = ARGV[1]
local amount = tonumber(ARGV[2])
local current = order.pledgeMap[user]
if current == nil then
  order.pledgeMap[user] = amount
  order.totalUsers = order.totalUsers + 1
else
  order.pledgeMap[user] = current + amount
end
order.totalPledge = order.totalPledge + amount

local completed = 0
if order.totalPledge >= order.amountNeeded then
  order.status = 'COMPLETED'
  completed = 1
end

local updated = cjson.encode(order)
if completed == 1 then
  redis.call('DEL', KEYS[1], KEYS[2])
  redis.call('ZREM', KEYS[3], KEYS[1])
else
  local ttl = redis.call('PTTL', KEYS[1])
  if ttl > 0 then
    redis.call('SET', KEYS[1], updated, 'PX', ttl)
  else
    redis.call('SET', KEYS[1], updated)
  end
  redis.call('SADD', KEYS[2], user)
end

return {1, '', updated, completed}
`)

// Pledge applies an additive pledge to a live order.
// A rejected pledge (OK=false) carries a Reason; only infrastructure
// failures surface as errors.
func (c *Cache) Pledge(ctx context.Context, orderID, userID string, amount float64) (*PledgeResult, error) {
	defer metrics.MeasureCacheOp(c.metrics, "pledge")()

	keys := []string{c.orderKey(orderID), c.participantsKey(orderID), c.geoKey()}
	reply, err := pledgeScript.Run(ctx, c.rdb, keys, userID, amount).Result()
	if err != nil {
		return nil, fmt.Errorf("pledge script: %w", err)
	}
	return parsePledgeReply(reply)
}

// parsePledgeReply decodes the script's {ok, reason, json, completed} array.
func parsePledgeReply(reply interface{}) (*PledgeResult, error) {
	arr, ok := reply.([]interface{})
	if !ok || len(arr) != 4 {
		return nil, fmt.Errorf("pledge script: unexpected reply %T", reply)
	}

	okFlag, ok := arr[0].(int64)
	if !ok {
		return nil, fmt.Errorf("pledge script: unexpected ok flag %T", arr[0])
	}

	if okFlag == 0 {
		reason, _ := arr[1].(string)
		if reason == "" {
			return nil, fmt.Errorf("pledge script: rejection without reason")
		}
		return &PledgeResult{OK: false, Reason: reason}, nil
	}

	raw, _ := arr[2].(string)
	var o orders.Order
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, fmt.Errorf("pledge script: decode snapshot: %w", err)
	}
	if o.PledgeMap == nil {
		o.PledgeMap = map[string]float64{}
	}

	completed, _ := arr[3].(int64)
	return &PledgeResult{OK: true, Order: &o, Completed: completed == 1}, nil
}
