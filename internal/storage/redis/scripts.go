package redis

import "github.com/redis/go-redis/v9"

const (
	// appendEventScript adds an event once and records it in the audit stream
	appendEventScript = `
local events_key = KEYS[1]     -- {prefix}:events:{entityID}
local audit_key = KEYS[2]      -- {prefix}:audit

local score = ARGV[1]
local member = ARGV[2]

if redis.call('ZADD', events_key, 'NX', score, member) == 0 then
  return 0
end

redis.call('XADD', audit_key, '*',
  'id', ARGV[3],
  'entity_id', ARGV[4],
  'kind', ARGV[5],
  'timestamp', ARGV[6],
  'source', ARGV[7]
)

return 1
`

	// resetLedgerScript resets one entry unless it was already reset for the
	// same or a later date. Dates are YYYY-MM-DD so string order is date order.
	resetLedgerScript = `
local ledger_key = KEYS[1]     -- {prefix}:ledger:{ownerID}

local date = ARGV[1]
local budget = ARGV[2]

local current = redis.call('HGET', ledger_key, 'reset_date')
if current and current >= date then
  return 0
end

redis.call('HSET', ledger_key,
  'remaining_ms', budget,
  'budget_ms', budget,
  'charged_ms', 0,
  'reset_date', date
)

return 1
`

	// applyChargeScript decrements remaining, clamped at zero, after the same
	// lazy reset applyUsageScript performs. Returns -1 when date is older
	// than the entry.
	applyChargeScript = `
local ledger_key = KEYS[1]     -- {prefix}:ledger:{ownerID}

local date = ARGV[1]
local budget = tonumber(ARGV[2])
local charge = tonumber(ARGV[3])

local current = redis.call('HGET', ledger_key, 'reset_date')
if current and current > date then
  return -1
end

if current ~= date then
  redis.call('HSET', ledger_key,
    'remaining_ms', budget,
    'budget_ms', budget,
    'charged_ms', 0,
    'reset_date', date
  )
end

local remaining = tonumber(redis.call('HGET', ledger_key, 'remaining_ms') or budget) - charge
if remaining < 0 then
  remaining = 0
end

redis.call('HSET', ledger_key, 'remaining_ms', remaining)

return remaining
`

	// applyUsageScript charges only the part of the day's total that has not
	// been charged yet, lazily resetting the entry on a new day. Returns
	// {remaining, charged, budget} or {-1} when date is older than the entry.
	applyUsageScript = `
local ledger_key = KEYS[1]     -- {prefix}:ledger:{ownerID}

local date = ARGV[1]
local budget = tonumber(ARGV[2])
local total = tonumber(ARGV[3])

local current = redis.call('HGET', ledger_key, 'reset_date')
if current and current > date then
  return {-1}
end

if current ~= date then
  redis.call('HSET', ledger_key,
    'remaining_ms', budget,
    'budget_ms', budget,
    'charged_ms', 0,
    'reset_date', date
  )
end

local remaining = tonumber(redis.call('HGET', ledger_key, 'remaining_ms') or budget)
local charged = tonumber(redis.call('HGET', ledger_key, 'charged_ms') or 0)
local entry_budget = tonumber(redis.call('HGET', ledger_key, 'budget_ms') or budget)

local delta = total - charged
if delta > 0 then
  remaining = remaining - delta
  if remaining < 0 then
    remaining = 0
  end
  charged = total
  redis.call('HSET', ledger_key, 'remaining_ms', remaining, 'charged_ms', charged)
end

return {remaining, charged, entry_budget}
`

	// assignOwnerScript moves an entity to a new owner and keeps both indexes
	// in step. The previous owner's set is derived from ARGV[3].
	assignOwnerScript = `
local entity_owner = KEYS[1]   -- {prefix}:entity:owner
local owners = KEYS[2]         -- {prefix}:owners
local owner_entities = KEYS[3] -- {prefix}:owner:entities:{ownerID}

local entity_id = ARGV[1]
local owner_id = ARGV[2]
local entities_prefix = ARGV[3]

local previous = redis.call('HGET', entity_owner, entity_id)
if previous and previous ~= owner_id then
  redis.call('SREM', entities_prefix .. previous, entity_id)
end

redis.call('HSET', entity_owner, entity_id, owner_id)
redis.call('SADD', owner_entities, entity_id)
redis.call('SADD', owners, owner_id)

return previous or ''
`

	// releaseEntityScript removes an entity from the directory. The owner
	// stays tracked so their ledger entry keeps its identity.
	releaseEntityScript = `
local entity_owner = KEYS[1]   -- {prefix}:entity:owner

local entity_id = ARGV[1]
local entities_prefix = ARGV[2]

local owner = redis.call('HGET', entity_owner, entity_id)
if not owner then
  return 0
end

redis.call('HDEL', entity_owner, entity_id)
redis.call('SREM', entities_prefix .. owner, entity_id)

return 1
`

	// claimDueScript pops every task whose due time has passed
	claimDueScript = `
local deferred_key = KEYS[1]   -- {prefix}:deferred

local now = ARGV[1]
local limit = tonumber(ARGV[2])

local due = redis.call('ZRANGEBYSCORE', deferred_key, '-inf', now, 'LIMIT', 0, limit)
for _, member in ipairs(due) do
  redis.call('ZREM', deferred_key, member)
end

return due
`
)

var (
	appendEvent   = redis.NewScript(appendEventScript)
	resetLedger   = redis.NewScript(resetLedgerScript)
	applyCharge   = redis.NewScript(applyChargeScript)
	applyUsage    = redis.NewScript(applyUsageScript)
	assignOwner   = redis.NewScript(assignOwnerScript)
	releaseEntity = redis.NewScript(releaseEntityScript)
	claimDue      = redis.NewScript(claimDueScript)
)
