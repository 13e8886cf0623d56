package api

import (
	"context"
	"fmt"

	"github.com/Leantan337/avgym-realtime/internal/model"
)

// GetAdminStats fetches dashboard statistics. Requires a bearer token.
func (c *Client) GetAdminStats(ctx context.Context) (*AdminStatsResponse, error) {
	var resp AdminStatsResponse
	if err := c.get(ctx, "/api/admin/stats/", nil, &resp); err != nil {
		return nil, fmt.Errorf("get admin stats: %w", err)
	}

	return &resp, nil
}

// ToCheckInStats converts the checkins section to the realtime stats shape.
// The REST endpoint does not report average stay, so that field stays zero.
func (r *AdminStatsResponse) ToCheckInStats() model.CheckInStats {
	return model.CheckInStats{
		CurrentlyIn: r.CheckIns.Current,
		TodayTotal:  r.CheckIns.Today,
	}
}
