package results

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/quailyquaily/nightshift/db/models"
	"gorm.io/gorm"
)

// Usage is the cost and timing the agent reported for one execution.
type Usage struct {
	TotalCostUSD  float64
	DurationMs    int64
	DurationAPIMs int64
	NumTurns      int
}

func (u Usage) IsZero() bool {
	return u == Usage{}
}

type UsageTotals struct {
	Executions   int
	TotalCostUSD float64
	DurationMs   int64
}

// RecordUsage appends one usage row. Rows are never updated.
func (s *Store) RecordUsage(ctx context.Context, taskID int64, projectID string, u Usage) error {
	cost := strconv.FormatFloat(u.TotalCostUSD, 'f', -1, 64)
	dur := u.DurationMs
	apiDur := u.DurationAPIMs
	turns := u.NumTurns
	err := s.db.Write(ctx, func(tx *gorm.DB) error {
		row := models.UsageMetric{
			TaskID:        taskID,
			TotalCostUSD:  &cost,
			DurationMs:    &dur,
			DurationAPIMs: &apiDur,
			NumTurns:      &turns,
			ProjectID:     optional(projectID),
			CreatedAt:     s.now().UnixMilli(),
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// UsageSince sums usage rows created at or after since. Cost is stored as
// text, so it is added up here rather than in SQL.
func (s *Store) UsageSince(ctx context.Context, since time.Time) (UsageTotals, error) {
	var rows []models.UsageMetric
	err := s.db.DB().WithContext(ctx).
		Where("created_at >= ?", since.UnixMilli()).
		Find(&rows).Error
	if err != nil {
		return UsageTotals{}, err
	}
	var out UsageTotals
	for _, r := range rows {
		out.Executions++
		if r.TotalCostUSD != nil {
			if v, err := strconv.ParseFloat(strings.TrimSpace(*r.TotalCostUSD), 64); err == nil {
				out.TotalCostUSD += v
			}
		}
		if r.DurationMs != nil {
			out.DurationMs += *r.DurationMs
		}
	}
	return out, nil
}
