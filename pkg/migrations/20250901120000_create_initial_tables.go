package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE tours (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				user_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT,
				published BOOLEAN NOT NULL DEFAULT FALSE
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE floor_plans (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				tour_id INTEGER REFERENCES tours (id) NOT NULL,
				name TEXT NOT NULL,
				position INTEGER NOT NULL DEFAULT 0,
				image_path TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_floor_plans_tour_id ON floor_plans (tour_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE hotspots (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				floor_plan_id INTEGER REFERENCES floor_plans (id) NOT NULL,
				name TEXT NOT NULL,
				x REAL NOT NULL DEFAULT 0,
				y REAL NOT NULL DEFAULT 0
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_hotspots_floor_plan_id ON hotspots (floor_plan_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE photos (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				hotspot_id INTEGER REFERENCES hotspots (id) NOT NULL,
				tour_id INTEGER REFERENCES tours (id) NOT NULL,
				filename TEXT NOT NULL,
				content_type TEXT NOT NULL,
				storage_path TEXT NOT NULL,
				file_size INTEGER NOT NULL DEFAULT 0
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_photos_tour_id ON photos (tour_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_photos_hotspot_id ON photos (hotspot_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE backup_jobs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				tour_id INTEGER REFERENCES tours (id) NOT NULL,
				user_id TEXT NOT NULL,
				job_type TEXT NOT NULL,
				status TEXT NOT NULL,
				total_items INTEGER NOT NULL DEFAULT 0,
				processed_items INTEGER NOT NULL DEFAULT 0,
				progress_percentage INTEGER NOT NULL DEFAULT 0,
				file_size INTEGER NOT NULL DEFAULT 0,
				storage_path TEXT,
				error_message TEXT,
				metadata TEXT,
				started_at TIMESTAMPTZ,
				completed_at TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_backup_jobs_tour_id ON backup_jobs (tour_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE backup_queue (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				backup_job_id INTEGER REFERENCES backup_jobs (id) NOT NULL,
				status TEXT NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 3,
				priority INTEGER NOT NULL DEFAULT 0,
				scheduled_at TIMESTAMPTZ NOT NULL,
				started_at TIMESTAMPTZ,
				completed_at TIMESTAMPTZ,
				error_message TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_backup_queue_status_scheduled_at ON backup_queue (status, scheduled_at)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE backup_parts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				backup_job_id INTEGER REFERENCES backup_jobs (id) NOT NULL,
				part_number INTEGER NOT NULL,
				storage_path TEXT NOT NULL,
				file_hash TEXT NOT NULL,
				file_size INTEGER NOT NULL DEFAULT 0,
				items_count INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL,
				completed_at TIMESTAMPTZ NOT NULL
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		// A retried chunk overwrites its row instead of duplicating it.
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_backup_parts_job_part ON backup_parts (backup_job_id, part_number)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE sync_jobs (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				tour_id INTEGER REFERENCES tours (id) NOT NULL,
				tenant_id TEXT NOT NULL,
				status TEXT NOT NULL,
				total_items INTEGER NOT NULL DEFAULT 0,
				processed_items INTEGER NOT NULL DEFAULT 0,
				failed_items INTEGER NOT NULL DEFAULT 0,
				error_messages TEXT,
				cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
				completed_at TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE job_logs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				backup_job_id INTEGER REFERENCES backup_jobs (id) NOT NULL,
				level TEXT NOT NULL,
				message TEXT NOT NULL,
				data TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_job_logs_backup_job_id ON job_logs (backup_job_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		// Device-local queue of photos captured offline.
		_, err = db.Exec(`
			CREATE TABLE pending_photos (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				hotspot_id INTEGER NOT NULL,
				tour_id INTEGER NOT NULL,
				tenant_id TEXT NOT NULL,
				payload BLOB NOT NULL,
				captured_at TIMESTAMPTZ NOT NULL,
				filename TEXT NOT NULL,
				content_type TEXT NOT NULL,
				sync_status TEXT NOT NULL,
				sync_error TEXT,
				synced_at TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_pending_photos_sync_status ON pending_photos (sync_status, captured_at)`)
		if err != nil {
			return errors.WithStack(err)
		}
		// Device-local offline tour bundles for the database storage adapter.
		_, err = db.Exec(`
			CREATE TABLE cached_tours (
				tour_id INTEGER PRIMARY KEY,
				name TEXT NOT NULL,
				tour_data BLOB NOT NULL,
				floor_plans BLOB NOT NULL,
				hotspots BLOB NOT NULL,
				images BLOB NOT NULL,
				size INTEGER NOT NULL DEFAULT 0,
				cached_at TIMESTAMPTZ NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		return nil
	}

	down := func(_ context.Context, db *bun.DB) error {
		tables := []string{
			"cached_tours", "pending_photos", "job_logs", "sync_jobs",
			"backup_parts", "backup_queue", "backup_jobs",
			"photos", "hotspots", "floor_plans", "tours",
		}
		for _, table := range tables {
			_, err := db.Exec("DROP TABLE IF EXISTS " + table)
			if err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	Migrations.MustRegister(up, down)
}
