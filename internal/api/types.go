package api

// TokenPair from POST /api/token/.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// tokenObtainRequest is the body for POST /api/token/.
type tokenObtainRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// tokenRefreshRequest is the body for POST /api/token/refresh/.
type tokenRefreshRequest struct {
	Refresh string `json:"refresh"`
}

// tokenRefreshResponse from POST /api/token/refresh/. The refresh field is
// present only when the server rotates refresh tokens.
type tokenRefreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// AdminStatsResponse from GET /api/admin/stats/.
type AdminStatsResponse struct {
	Members       MemberStats       `json:"members"`
	Subscriptions SubscriptionStats `json:"subscriptions"`
	Finance       FinanceStats      `json:"finance"`
	CheckIns      CheckInCounts     `json:"checkins"`
}

// MemberStats is the members section of the admin stats response.
type MemberStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	NewToday int `json:"new_today"`
}

// SubscriptionStats is the subscriptions section of the admin stats response.
type SubscriptionStats struct {
	Active       int `json:"active"`
	ExpiringSoon int `json:"expiring_soon"`
}

// FinanceStats is the finance section of the admin stats response.
type FinanceStats struct {
	TodayRevenue    float64 `json:"today_revenue"`
	PendingPayments float64 `json:"pending_payments"`
}

// CheckInCounts is the checkins section of the admin stats response.
type CheckInCounts struct {
	Today   int `json:"today"`
	Current int `json:"current"`
}
