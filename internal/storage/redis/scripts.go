package redis

const (
	// journalTTLSeconds keeps attempts for 90 days
	journalTTLSeconds = 7776000

	// recordAttemptScript atomically stores an attempt and its indexes
	recordAttemptScript = `
local attempt_key = KEYS[1]    -- lockbox:attempt:{id}
local timeline = KEYS[2]       -- lockbox:attempts (zset scored by start time)
local day_key = KEYS[3]        -- lockbox:attempts:day:{date}

local id = ARGV[1]
local payload = ARGV[2]
local started_ms = ARGV[3]
local ttl = ARGV[4]
local day_prefix = ARGV[5]     -- lockbox:attempts:day:

-- Drop the previous day index entry when an attempt is re-recorded
local previous = redis.call('HGET', attempt_key, 'day')
if previous and (day_prefix .. previous) ~= day_key then
  redis.call('SREM', day_prefix .. previous, id)
end

redis.call('HSET', attempt_key,
  'id', id,
  'data', payload,
  'day', string.sub(day_key, string.len(day_prefix) + 1)
)
redis.call('EXPIRE', attempt_key, ttl)

redis.call('ZADD', timeline, started_ms, id)

redis.call('SADD', day_key, id)
redis.call('EXPIRE', day_key, ttl)

return 'OK'
`

	// deleteAttemptsBeforeScript removes attempts started before a cutoff
	deleteAttemptsBeforeScript = `
local timeline = KEYS[1]       -- lockbox:attempts

local cutoff_ms = ARGV[1]
local attempt_prefix = ARGV[2] -- lockbox:attempt:
local day_prefix = ARGV[3]     -- lockbox:attempts:day:

local ids = redis.call('ZRANGEBYSCORE', timeline, '-inf', '(' .. cutoff_ms)
for _, id in ipairs(ids) do
  local key = attempt_prefix .. id
  local day = redis.call('HGET', key, 'day')
  if day then
    redis.call('SREM', day_prefix .. day, id)
  end
  redis.call('DEL', key)
  redis.call('ZREM', timeline, id)
end

return #ids
`
)
