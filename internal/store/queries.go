package store

const (
	insertJob = `
		INSERT INTO print_jobs (id, image, print_mode, cut_mode, use_lock, wait_for_idle, state, submitted_by)
		VALUES (?, ?, ?, ?, ?, ?, 'held', ?)
	`

	jobColumns = `
		id, image, print_mode, cut_mode, use_lock, wait_for_idle,
		state, attempts, last_error, result, submitted_by,
		created_at, retry_at, claimed_at, completed_at
	`

	selectClaimable = `
		SELECT ` + jobColumns + `
		FROM print_jobs
		WHERE state = 'held' AND (retry_at IS NULL OR retry_at <= ?)
		ORDER BY created_at ASC
		LIMIT 1
	`

	claimJob = `
		UPDATE print_jobs SET state = 'claimed', claimed_at = ?
		WHERE id = ? AND state = 'held'
	`

	completeJob = `
		UPDATE print_jobs SET
			state = 'completed', result = ?, completed_at = ?,
			attempts = attempts + 1
		WHERE id = ? AND state = 'claimed'
	`

	failJob = `
		UPDATE print_jobs SET
			state = 'failed', last_error = ?, completed_at = ?,
			attempts = attempts + 1
		WHERE id = ? AND state = 'claimed'
	`

	returnJobToHeld = `
		UPDATE print_jobs SET
			state = 'held', claimed_at = NULL, retry_at = ?,
			attempts = attempts + ?, last_error = ?
		WHERE id = ? AND state = 'claimed'
	`

	getJob = `
		SELECT ` + jobColumns + `
		FROM print_jobs WHERE id = ?
	`

	listJobsByState = `
		SELECT ` + jobColumns + `
		FROM print_jobs WHERE state = ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	listJobs = `
		SELECT ` + jobColumns + `
		FROM print_jobs
		ORDER BY created_at ASC
		LIMIT ?
	`

	cancelJob = `
		UPDATE print_jobs SET state = 'cancelled', completed_at = ?
		WHERE id = ? AND state = 'held'
	`

	cancelAllHeldJobs = `
		UPDATE print_jobs SET state = 'cancelled', completed_at = ?
		WHERE state = 'held'
	`

	retryFailedJob = `
		UPDATE print_jobs SET
			state = 'held', attempts = 0, last_error = '',
			retry_at = NULL, claimed_at = NULL, completed_at = NULL
		WHERE id = ? AND state = 'failed'
	`

	recoverClaimedJobs = `
		UPDATE print_jobs SET state = 'held', claimed_at = NULL
		WHERE state = 'claimed'
	`

	countJobsByState = `
		SELECT state, COUNT(*) FROM print_jobs GROUP BY state
	`

	getSetting = `SELECT value FROM settings WHERE key = ?`

	setSetting = `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
)
