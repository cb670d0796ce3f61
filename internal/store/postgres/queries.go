package postgres

const schedulesColumns = `id, device_id, name, weekdays, start_time, end_time, enabled, on_trigger_name, off_trigger_name, created_at, updated_at`

const queryPutSchedule = `
INSERT INTO schedules (` + schedulesColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
    device_id = EXCLUDED.device_id,
    name = EXCLUDED.name,
    weekdays = EXCLUDED.weekdays,
    start_time = EXCLUDED.start_time,
    end_time = EXCLUDED.end_time,
    enabled = EXCLUDED.enabled,
    on_trigger_name = EXCLUDED.on_trigger_name,
    off_trigger_name = EXCLUDED.off_trigger_name,
    created_at = EXCLUDED.created_at,
    updated_at = EXCLUDED.updated_at
`

const queryGetSchedule = `
SELECT ` + schedulesColumns + `
FROM schedules
WHERE id = $1
`

const queryDeleteSchedule = `
DELETE FROM schedules WHERE id = $1
`

const queryListSchedulesByDevice = `
SELECT ` + schedulesColumns + `
FROM schedules
WHERE device_id = $1
ORDER BY created_at ASC, id ASC
`

const queryInsertTrigger = `
INSERT INTO triggers (name, expression, action_ref, role_ref, device_id, action, state, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const queryDeleteTrigger = `
DELETE FROM triggers WHERE name = $1
`

const queryTriggerExists = `
SELECT EXISTS(SELECT 1 FROM triggers WHERE name = $1)
`

const queryListEnabledTriggers = `
SELECT name, expression, action_ref, role_ref, device_id, action, state, created_at
FROM triggers
WHERE state = 'ENABLED'
ORDER BY name
`

const queryInsertFiring = `
INSERT INTO firings (id, trigger_name, device_id, action, scheduled_at, fired_at, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const queryGetFiringStatus = `
SELECT status FROM firings WHERE id = $1
`

const queryUpdateFiringStatus = `
UPDATE firings
SET status = $1, error = $2
WHERE id = $3
  AND status NOT IN ('delivered', 'failed')
`

const queryGetOrphanedFirings = `
SELECT id, trigger_name, device_id, action, scheduled_at, fired_at, status, error, created_at
FROM firings
WHERE status = 'emitted'
  AND created_at < $1
ORDER BY created_at ASC
LIMIT $2
`

const queryInsertReading = `
INSERT INTO readings (id, device_id, ts, state, voltage, current, power)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
