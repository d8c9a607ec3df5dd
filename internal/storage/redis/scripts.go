package redis

const (
	// commitSessionScript atomically applies one state-machine change: the
	// session hash (guarded by its version) plus at most one interruption.
	commitSessionScript = `
local session_key = KEYS[1]        -- {prefix}:session:{sessionID}
local interruptions_key = KEYS[2]  -- {prefix}:session:{sessionID}:interruptions
local interruption_key = KEYS[3]   -- {prefix}:interruption:{interruptionID}

local expected_version = ARGV[1]
local status = ARGV[2]
local pause_count = ARGV[3]
local start_time = ARGV[4]
local end_time = ARGV[5]
local mode = ARGV[6]               -- none | open | close
local interruption_id = ARGV[7]
local session_id = ARGV[8]
local reason = ARGV[9]
local pause_time = ARGV[10]
local resume_time = ARGV[11]
local pause_score = ARGV[12]

if redis.call('EXISTS', session_key) == 0 then
  return 'NOT_FOUND'
end

if redis.call('HGET', session_key, 'version') ~= expected_version then
  return 'CONFLICT'
end

if mode == 'close' and redis.call('EXISTS', interruption_key) == 0 then
  return 'NOT_FOUND'
end

redis.call('HSET', session_key,
  'status', status,
  'pause_count', pause_count,
  'start_time', start_time,
  'end_time', end_time
)
redis.call('HINCRBY', session_key, 'version', 1)

if mode == 'open' then
  redis.call('HSET', interruption_key,
    'id', interruption_id,
    'session_id', session_id,
    'reason', reason,
    'pause_time', pause_time,
    'resume_time', ''
  )
  redis.call('ZADD', interruptions_key, pause_score, interruption_id)
elseif mode == 'close' then
  redis.call('HSET', interruption_key, 'resume_time', resume_time)
end

return 'OK'
`

	// deleteSessionScript removes a session, every interruption it owns and
	// its entry in the creation index.
	deleteSessionScript = `
local session_key = KEYS[1]        -- {prefix}:session:{sessionID}
local interruptions_key = KEYS[2]  -- {prefix}:session:{sessionID}:interruptions
local created_index = KEYS[3]      -- {prefix}:sessions:created

local session_id = ARGV[1]
local interruption_prefix = ARGV[2] -- {prefix}:interruption:

if redis.call('EXISTS', session_key) == 0 then
  return 0
end

local ids = redis.call('ZRANGE', interruptions_key, 0, -1)
for _, id in ipairs(ids) do
  redis.call('DEL', interruption_prefix .. id)
end

redis.call('DEL', interruptions_key)
redis.call('DEL', session_key)
redis.call('ZREM', created_index, session_id)

return 1
`
)
