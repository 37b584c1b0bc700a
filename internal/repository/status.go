package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

const statusColumns = `id, level, reasons, source, grp, pdop, kp, satellite_count, detail, evaluated_at, expires_at`

func levelRank(l models.RiskLevel) int {
	switch l {
	case models.RiskGreen:
		return 0
	case models.RiskAmber:
		return 1
	case models.RiskRed:
		return 2
	default:
		return 3
	}
}

func (s *SQLiteDB) Add(ctx context.Context, st *models.RiskStatus) error {
	if st.ID == "" {
		return errors.New("status has no id")
	}
	reasons := make([]string, len(st.Reasons))
	for i, r := range st.Reasons {
		reasons[i] = string(r)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO statuses (id, level, level_rank, reasons, source, grp, pdop, kp, satellite_count, detail, evaluated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID,
		string(st.Level),
		levelRank(st.Level),
		strings.Join(reasons, ","),
		string(st.Source),
		string(st.Group),
		nullFloat(st.PDOP),
		nullFloat(st.Kp),
		st.SatelliteCount,
		st.Detail,
		st.EvaluatedAt.UnixNano(),
		st.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("error inserting status %s: %w", st.ID, err)
	}
	return nil
}

func (s *SQLiteDB) GetByID(ctx context.Context, id string) (*models.RiskStatus, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+statusColumns+` FROM statuses WHERE id = ?`, id)
	st, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("status %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Latest returns the most recent status recorded for group.
func (s *SQLiteDB) Latest(ctx context.Context, group models.ConstellationGroup) (*models.RiskStatus, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+statusColumns+` FROM statuses WHERE grp = ? ORDER BY evaluated_at DESC LIMIT 1`, string(group))
	st, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest status for %s: %w", group, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ListStatuses returns statuses newest first.
func (s *SQLiteDB) ListStatuses(ctx context.Context, opts Filter) ([]models.RiskStatus, error) {
	var (
		where []string
		args  []any
	)
	if opts.Since != nil {
		where = append(where, "evaluated_at >= ?")
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Until != nil {
		where = append(where, "evaluated_at < ?")
		args = append(args, opts.Until.UnixNano())
	}
	if opts.Group != nil {
		where = append(where, "grp = ?")
		args = append(args, string(*opts.Group))
	}
	if opts.Level != nil {
		where = append(where, "level = ?")
		args = append(args, string(*opts.Level))
	}
	if opts.MinLevel != nil {
		where = append(where, "level_rank >= ?")
		args = append(args, levelRank(*opts.MinLevel))
	}
	if opts.Source != nil {
		where = append(where, "source = ?")
		args = append(args, string(*opts.Source))
	}

	query := `SELECT ` + statusColumns + ` FROM statuses`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY evaluated_at DESC"
	query, args = paginate(query, args, opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing statuses: %w", err)
	}
	defer rows.Close()

	var out []models.RiskStatus
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStatus(sc scanner) (models.RiskStatus, error) {
	var (
		st                   models.RiskStatus
		level, source, group string
		reasons              string
		detail               sql.NullString
		pdop, kp             sql.NullFloat64
		evaluated, expires   int64
	)
	if err := sc.Scan(&st.ID, &level, &reasons, &source, &group, &pdop, &kp, &st.SatelliteCount, &detail, &evaluated, &expires); err != nil {
		return st, err
	}

	st.Level = models.RiskLevel(level)
	st.Source = models.Source(source)
	st.Group = models.ConstellationGroup(group)
	st.Detail = detail.String
	st.Reasons = []models.Reason{}
	if reasons != "" {
		for _, r := range strings.Split(reasons, ",") {
			st.Reasons = append(st.Reasons, models.Reason(r))
		}
	}
	if pdop.Valid {
		st.PDOP = &pdop.Float64
	}
	if kp.Valid {
		st.Kp = &kp.Float64
	}
	st.EvaluatedAt = time.Unix(0, evaluated).UTC()
	st.ExpiresAt = time.Unix(0, expires).UTC()
	return st, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func paginate(query string, args []any, opts Filter) (string, []any) {
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}
	return query, args
}
