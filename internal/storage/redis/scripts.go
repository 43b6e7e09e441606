package redis

const (
	// incrementUsageScript atomically adds seconds to a day record's counter,
	// creating the record with default fields if it does not exist yet.
	incrementUsageScript = `
local usage_key = KEYS[1]    -- sitewarden:usage:{date}:{domain}
local date_index = KEYS[2]   -- sitewarden:usage:index:{date}
local domain_index = KEYS[3] -- sitewarden:usage:domain:{domain}
local dates_set = KEYS[4]    -- sitewarden:usage:dates

local domain = ARGV[1]
local date = ARGV[2]
local seconds = tonumber(ARGV[3])
local now = ARGV[4]

local exists = redis.call('EXISTS', usage_key)

if exists == 0 then
  redis.call('HSET', usage_key,
    'domain', domain,
    'date', date,
    'used_seconds', 0,
    'status', 'active',
    'pending_started_at', '',
    'emergency_grants_used_today', 0,
    'restarted_today', '0',
    'restarted_at', '',
    'time_lock_exempt_today', '0',
    'last_updated_at', now
  )
  redis.call('SADD', date_index, domain)
  redis.call('SADD', domain_index, date)
  redis.call('SADD', dates_set, date)
end

local total = redis.call('HINCRBY', usage_key, 'used_seconds', seconds)
redis.call('HSET', usage_key, 'last_updated_at', now)

return total
`

	// adjustUsageScript applies a signed delta to an existing record's
	// counter, clamping the result at zero. Returns -1 if the record is
	// missing.
	adjustUsageScript = `
local usage_key = KEYS[1]

local delta = tonumber(ARGV[1])
local now = ARGV[2]

if redis.call('EXISTS', usage_key) == 0 then
  return -1
end

local total = redis.call('HINCRBY', usage_key, 'used_seconds', delta)
if total < 0 then
  redis.call('HSET', usage_key, 'used_seconds', 0)
  total = 0
end
redis.call('HSET', usage_key, 'last_updated_at', now)

return total
`

	// claimEmergencyRestartScript consumes the day's single global
	// emergency-restart allowance. Returns 1 on a successful claim, 0 if the
	// allowance was already used on the given date, -1 if the policy document
	// is missing.
	claimEmergencyRestartScript = `
local policy_key = KEYS[1]

local date = ARGV[1]

if redis.call('EXISTS', policy_key) == 0 then
  return -1
end

local used = redis.call('HGET', policy_key, 'emergency_restart_used_today')
local used_date = redis.call('HGET', policy_key, 'emergency_restart_used_date')

if used == '1' and used_date == date then
  return 0
end

redis.call('HSET', policy_key,
  'emergency_restart_used_today', '1',
  'emergency_restart_used_date', date
)

return 1
`
)
