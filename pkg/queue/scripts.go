package queue

import "github.com/redis/go-redis/v9"

// Scores are formatted with %.0f so that large values survive the
// number-to-string conversion redis.call applies to Lua numbers.

// KEYS: id, waiting, prioritized, delayed, schedule
// ARGV: jobKeyPrefix, name, data, priority, attempts, backoffType,
// backoffDelayMs, nowMs, delayMs
var enqueueScript = redis.NewScript(`
local id = redis.call("INCR", KEYS[1])
local sid = tostring(id)
local jobKey = ARGV[1] .. sid
local now = tonumber(ARGV[8])
local delay = tonumber(ARGV[9])
redis.call("HSET", jobKey,
  "name", ARGV[2],
  "data", ARGV[3],
  "priority", ARGV[4],
  "attempts", ARGV[5],
  "backoffType", ARGV[6],
  "backoffDelay", ARGV[7],
  "timestamp", ARGV[8],
  "attemptsMade", "0")
if delay > 0 then
  redis.call("HSET", jobKey, "delay", ARGV[9])
  redis.call("ZADD", KEYS[4], ARGV[8], sid)
  redis.call("ZADD", KEYS[5], string.format("%.0f", now + delay), sid)
else
  local score = tonumber(ARGV[4]) * 4294967296 + (id % 4294967296)
  redis.call("ZADD", KEYS[2], ARGV[8], sid)
  redis.call("ZADD", KEYS[3], string.format("%.0f", score), sid)
end
return sid
`)

// KEYS: prioritized, waiting, active
// ARGV: jobKeyPrefix, nowMs
var takeScript = redis.NewScript(`
local ids = redis.call("ZRANGE", KEYS[1], 0, 0)
if #ids == 0 then
  return false
end
local id = ids[1]
redis.call("ZREM", KEYS[1], id)
redis.call("ZREM", KEYS[2], id)
redis.call("ZADD", KEYS[3], ARGV[2], id)
redis.call("HSET", ARGV[1] .. id, "processedOn", ARGV[2])
return id
`)

// KEYS: active, completed
// ARGV: jobKeyPrefix, id, nowMs, keepCompleted
// Returns 0 when the job is not active.
var completeScript = redis.NewScript(`
if not redis.call("ZSCORE", KEYS[1], ARGV[2]) then
  return 0
end
local jobKey = ARGV[1] .. ARGV[2]
redis.call("ZREM", KEYS[1], ARGV[2])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[2])
redis.call("HINCRBY", jobKey, "attemptsMade", 1)
redis.call("HSET", jobKey, "finishedOn", ARGV[3])
local keep = tonumber(ARGV[4])
if keep >= 0 then
  local excess = redis.call("ZCARD", KEYS[2]) - keep
  if excess > 0 then
    local old = redis.call("ZRANGE", KEYS[2], 0, excess - 1)
    for _, oid in ipairs(old) do
      redis.call("DEL", ARGV[1] .. oid)
    end
    redis.call("ZREMRANGEBYRANK", KEYS[2], 0, excess - 1)
  end
end
return 1
`)

// KEYS: active, delayed, schedule, failed
// ARGV: jobKeyPrefix, id, nowMs, reason
// Returns {state, attemptsMade, dueMs}; state is "" when the job is not active.
var failScript = redis.NewScript(`
if not redis.call("ZSCORE", KEYS[1], ARGV[2]) then
  return {"", 0, 0}
end
local jobKey = ARGV[1] .. ARGV[2]
local now = tonumber(ARGV[3])
local made = redis.call("HINCRBY", jobKey, "attemptsMade", 1)
local attempts = tonumber(redis.call("HGET", jobKey, "attempts")) or 1
redis.call("ZREM", KEYS[1], ARGV[2])
redis.call("HSET", jobKey, "failedReason", ARGV[4])
if made < attempts then
  local delay = tonumber(redis.call("HGET", jobKey, "backoffDelay")) or 0
  if redis.call("HGET", jobKey, "backoffType") == "exponential" then
    local shift = made - 1
    if shift > 30 then
      shift = 30
    end
    delay = delay * (2 ^ shift)
  end
  local due = string.format("%.0f", now + delay)
  redis.call("ZADD", KEYS[2], ARGV[3], ARGV[2])
  redis.call("ZADD", KEYS[3], due, ARGV[2])
  return {"delayed", made, due}
end
redis.call("ZADD", KEYS[4], ARGV[3], ARGV[2])
redis.call("HSET", jobKey, "finishedOn", ARGV[3])
return {"failed", made, 0}
`)

// KEYS: schedule, delayed, waiting, prioritized
// ARGV: jobKeyPrefix, nowMs, limit
var promoteScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[2], "LIMIT", 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
  local p = tonumber(redis.call("HGET", ARGV[1] .. id, "priority")) or 0
  local score = p * 4294967296 + (tonumber(id) % 4294967296)
  redis.call("ZREM", KEYS[1], id)
  redis.call("ZREM", KEYS[2], id)
  redis.call("ZADD", KEYS[3], ARGV[2], id)
  redis.call("ZADD", KEYS[4], string.format("%.0f", score), id)
end
return #ids
`)

// KEYS: state set
// ARGV: jobKeyPrefix, cutoffMs, limit
var cleanScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[2], "LIMIT", 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
  redis.call("ZREM", KEYS[1], id)
  redis.call("DEL", ARGV[1] .. id)
end
return #ids
`)
