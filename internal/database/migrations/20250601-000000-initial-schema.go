package migrations

func init() {
	Register(Migration{
		Timestamp:   "20250601-000000",
		Description: "Initial schema",
		Up: []string{
			// Athletes - identity records that race results link to.
			// external_user_id references an account in the user service.
			`CREATE TABLE IF NOT EXISTS athletes (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				normalized_name TEXT NOT NULL,
				gender TEXT,
				birth_date TEXT,
				country TEXT,
				external_user_id TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_athletes_normalized_name ON athletes(normalized_name)`,

			// Events - identified by URL, immutable after creation except metadata
			`CREATE TABLE IF NOT EXISTS events (
				id TEXT PRIMARY KEY,
				url TEXT UNIQUE NOT NULL,
				organiser TEXT NOT NULL,
				name TEXT NOT NULL,
				date TEXT NOT NULL,
				location TEXT,
				metadata_json TEXT,
				scraped_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_events_organiser ON events(organiser)`,
			`CREATE INDEX IF NOT EXISTS idx_events_date ON events(date)`,

			// Event distances - named distances within an event
			`CREATE TABLE IF NOT EXISTS event_distances (
				id TEXT PRIMARY KEY,
				event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				distance_meters INTEGER NOT NULL,
				race_type TEXT NOT NULL DEFAULT 'running',
				expected_checkpoints TEXT,
				participant_count INTEGER DEFAULT 0,
				created_at TEXT NOT NULL,
				UNIQUE(event_id, name)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_event_distances_event_id ON event_distances(event_id)`,

			// Race results - athlete_id is a weak reference (SET NULL on delete)
			`CREATE TABLE IF NOT EXISTS race_results (
				id TEXT PRIMARY KEY,
				event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
				event_distance_id TEXT REFERENCES event_distances(id) ON DELETE SET NULL,
				position INTEGER,
				bib TEXT,
				name TEXT NOT NULL,
				normalized_name TEXT NOT NULL,
				gender TEXT,
				category TEXT,
				finish_time TEXT,
				gun_time TEXT,
				chip_time TEXT,
				pace TEXT,
				gender_position INTEGER,
				category_position INTEGER,
				country TEXT,
				club TEXT,
				age INTEGER,
				status TEXT NOT NULL DEFAULT 'finished',
				time_behind TEXT,
				athlete_id TEXT REFERENCES athletes(id) ON DELETE SET NULL,
				validation_json TEXT,
				metadata_json TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_race_results_event_id ON race_results(event_id)`,
			`CREATE INDEX IF NOT EXISTS idx_race_results_athlete_id ON race_results(athlete_id)`,
			`CREATE INDEX IF NOT EXISTS idx_race_results_normalized_name ON race_results(normalized_name)`,
			// Re-scrapes dedupe on the identity of a row within an event
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_race_results_identity
				ON race_results(event_id, IFNULL(position, -1), normalized_name, IFNULL(bib, ''))`,

			// Timing checkpoints - unique within a result by normalised name
			`CREATE TABLE IF NOT EXISTS timing_checkpoints (
				id TEXT PRIMARY KEY,
				result_id TEXT NOT NULL REFERENCES race_results(id) ON DELETE CASCADE,
				checkpoint_type TEXT NOT NULL DEFAULT 'distance',
				checkpoint_name TEXT NOT NULL,
				checkpoint_order INTEGER NOT NULL,
				split_time TEXT,
				cumulative_time TEXT,
				pace TEXT,
				segment_distance_meters INTEGER,
				created_at TEXT NOT NULL,
				UNIQUE(result_id, checkpoint_name)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_timing_checkpoints_result_id ON timing_checkpoints(result_id)`,

			// Result sources - provenance per result; at most one primary
			`CREATE TABLE IF NOT EXISTS result_sources (
				id TEXT PRIMARY KEY,
				result_id TEXT NOT NULL REFERENCES race_results(id) ON DELETE CASCADE,
				organiser TEXT NOT NULL,
				source_url TEXT NOT NULL,
				scraped_at TEXT NOT NULL,
				fields_provided TEXT,
				confidence INTEGER NOT NULL DEFAULT 0,
				is_primary INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_result_sources_result_id ON result_sources(result_id)`,

			// Event source links - undirected pair stored in sorted order
			`CREATE TABLE IF NOT EXISTS event_source_links (
				id TEXT PRIMARY KEY,
				event_a_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
				event_b_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
				link_type TEXT NOT NULL DEFAULT 'same_event',
				confidence INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				CHECK(event_a_id <> event_b_id),
				UNIQUE(event_a_id, event_b_id)
			)`,

			// Athlete follows - directed, unique, non-self
			`CREATE TABLE IF NOT EXISTS athlete_follows (
				id TEXT PRIMARY KEY,
				follower_id TEXT NOT NULL REFERENCES athletes(id) ON DELETE CASCADE,
				following_id TEXT NOT NULL REFERENCES athletes(id) ON DELETE CASCADE,
				created_at TEXT NOT NULL,
				CHECK(follower_id <> following_id),
				UNIQUE(follower_id, following_id)
			)`,

			// Scrape jobs - one ingestion attempt per row.
			// status='failed' with next_retry_at set is the retry-queue predicate.
			`CREATE TABLE IF NOT EXISTS scrape_jobs (
				id TEXT PRIMARY KEY,
				organiser TEXT,
				event_url TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				results_count INTEGER DEFAULT 0,
				error_message TEXT,
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 3,
				next_retry_at TEXT,
				notification_sent INTEGER NOT NULL DEFAULT 0,
				started_at TEXT,
				completed_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_status ON scrape_jobs(status)`,
			`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_next_retry_at ON scrape_jobs(next_retry_at)`,
			`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_event_url ON scrape_jobs(event_url)`,

			// Monitored endpoints
			`CREATE TABLE IF NOT EXISTS monitored_endpoints (
				id TEXT PRIMARY KEY,
				organiser TEXT NOT NULL,
				name TEXT NOT NULL,
				url TEXT UNIQUE NOT NULL,
				enabled INTEGER NOT NULL DEFAULT 1,
				check_interval_minutes INTEGER NOT NULL DEFAULT 15,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,

			// Latest status per endpoint
			`CREATE TABLE IF NOT EXISTS endpoint_status_current (
				endpoint_id TEXT PRIMARY KEY REFERENCES monitored_endpoints(id) ON DELETE CASCADE,
				status TEXT NOT NULL DEFAULT 'unknown',
				http_code INTEGER,
				response_time_ms INTEGER,
				has_results INTEGER NOT NULL DEFAULT 0,
				last_checked TEXT NOT NULL,
				last_status_change TEXT,
				consecutive_failures INTEGER NOT NULL DEFAULT 0
			)`,

			// Append-only probe log; ULID primary keys keep it time-ordered
			`CREATE TABLE IF NOT EXISTS endpoint_status_history (
				id TEXT PRIMARY KEY,
				endpoint_id TEXT NOT NULL REFERENCES monitored_endpoints(id) ON DELETE CASCADE,
				status TEXT NOT NULL,
				http_code INTEGER,
				response_time_ms INTEGER,
				has_results INTEGER NOT NULL DEFAULT 0,
				error_message TEXT,
				checked_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_endpoint_status_history_endpoint_id
				ON endpoint_status_history(endpoint_id)`,
		},
	})
}
