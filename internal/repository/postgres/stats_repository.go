package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Merryfling/shortlink/internal/models"
	"github.com/Merryfling/shortlink/internal/repository/interfaces"
)

// StatsRepository implements the StatsRepository interface for PostgreSQL.
// Every increment is an INSERT ... ON CONFLICT ... DO UPDATE so concurrent
// consumers never lose updates.
type StatsRepository struct {
	db *sql.DB
}

// NewStatsRepository creates a new PostgreSQL stats repository
func NewStatsRepository(db *sql.DB) interfaces.StatsRepository {
	return &StatsRepository{db: db}
}

// UpsertDailyStats increments the per (shortUrl, date, hour) aggregate
func (r *StatsRepository) UpsertDailyStats(ctx context.Context, stats *models.DailyStats) error {
	query := `
		INSERT INTO link_daily_stats (short_url, date, hour, weekday, pv, uv, uip)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (short_url, date, hour)
		DO UPDATE SET pv = link_daily_stats.pv + EXCLUDED.pv,
					  uv = link_daily_stats.uv + EXCLUDED.uv,
					  uip = link_daily_stats.uip + EXCLUDED.uip
	`

	_, err := r.db.ExecContext(ctx, query,
		stats.ShortURL,
		stats.Date,
		stats.Hour,
		stats.Weekday,
		stats.PV,
		stats.UV,
		stats.UIP,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily stats: %w", err)
	}

	return nil
}

// UpsertLocaleStats increments the per-locale counter
func (r *StatsRepository) UpsertLocaleStats(ctx context.Context, shortURL string, date time.Time, country, province, city string, delta int64) error {
	query := `
		INSERT INTO link_locale_stats (short_url, date, country, province, city, cnt)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (short_url, date, country, province, city)
		DO UPDATE SET cnt = link_locale_stats.cnt + EXCLUDED.cnt
	`

	_, err := r.db.ExecContext(ctx, query, shortURL, date, country, province, city, delta)
	if err != nil {
		return fmt.Errorf("failed to upsert locale stats: %w", err)
	}

	return nil
}

// UpsertOSStats increments the per-OS counter
func (r *StatsRepository) UpsertOSStats(ctx context.Context, shortURL string, date time.Time, os string, delta int64) error {
	return r.upsertDimension(ctx, "link_os_stats", "os", shortURL, date, os, delta)
}

// UpsertBrowserStats increments the per-browser counter
func (r *StatsRepository) UpsertBrowserStats(ctx context.Context, shortURL string, date time.Time, browser string, delta int64) error {
	return r.upsertDimension(ctx, "link_browser_stats", "browser", shortURL, date, browser, delta)
}

// UpsertDeviceStats increments the per-device counter
func (r *StatsRepository) UpsertDeviceStats(ctx context.Context, shortURL string, date time.Time, device string, delta int64) error {
	return r.upsertDimension(ctx, "link_device_stats", "device", shortURL, date, device, delta)
}

// UpsertNetworkStats increments the per-network counter
func (r *StatsRepository) UpsertNetworkStats(ctx context.Context, shortURL string, date time.Time, network string, delta int64) error {
	return r.upsertDimension(ctx, "link_network_stats", "network", shortURL, date, network, delta)
}

// upsertDimension increments one single-valued dimension table. The table and
// column names come from a fixed internal set, never from user input.
func (r *StatsRepository) upsertDimension(ctx context.Context, table, column, shortURL string, date time.Time, value string, delta int64) error {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (short_url, date, %[2]s, cnt)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (short_url, date, %[2]s)
		DO UPDATE SET cnt = %[1]s.cnt + EXCLUDED.cnt
	`, table, column)

	_, err := r.db.ExecContext(ctx, query, shortURL, date, value, delta)
	if err != nil {
		return fmt.Errorf("failed to upsert %s stats: %w", column, err)
	}

	return nil
}

// RecordAccessLog determines first-visit under a transactional existence
// check and inserts the access-log row carrying that flag
func (r *StatsRepository) RecordAccessLog(ctx context.Context, log *models.AccessLog) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin access log transaction: %w", err)
	}
	defer tx.Rollback()

	var seen bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM link_access_logs
			WHERE short_url = $1 AND visitor = $2
		)
	`, log.ShortURL, log.Visitor).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("failed to check visitor history: %w", err)
	}

	log.FirstVisit = !seen

	_, err = tx.ExecContext(ctx, `
		INSERT INTO link_access_logs (id, short_url, visitor, ip, os, browser,
									 device, network, locale, first_visit, accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		log.ID,
		log.ShortURL,
		log.Visitor,
		log.IP,
		log.OS,
		log.Browser,
		log.Device,
		log.Network,
		log.Locale,
		log.FirstVisit,
		log.AccessedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert access log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit access log: %w", err)
	}

	return log.FirstVisit, nil
}
