package repository

import "context"

// DashboardSummary is the headline card of the landing page.
type DashboardSummary struct {
	TotalTrackedWhales int     `json:"total_tracked_whales"`
	ActiveWhales24h    int     `json:"active_whales_24h"`
	TotalVolume24hUSD  float64 `json:"total_volume_24h_usd"`
	PerpWhales         int     `json:"perp_whales"`
}

func (r *Repository) GetDashboardSummary(ctx context.Context) (*DashboardSummary, error) {
	var s DashboardSummary

	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE w.last_active_at >= now() - interval '24 hours'),
			COUNT(*) FILTER (WHERE c.slug = 'perp')
		FROM whales w
		JOIN chains c ON c.id = w.chain_id`).
		Scan(&s.TotalTrackedWhales, &s.ActiveWhales24h, &s.PerpWhales)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(value_usd), 0)
		FROM trades
		WHERE timestamp >= now() - interval '24 hours'`).Scan(&s.TotalVolume24hUSD)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
