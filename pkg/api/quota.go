package api

// QuotaDenial is the JSON body of a 429 response. Upgrade is always
// present and null unless the denying policy entry carries a hint.
type QuotaDenial struct {
	Error             string  `json:"error"`
	Dimension         string  `json:"dimension"`
	Limit             int64   `json:"limit"`
	Usage             int64   `json:"usage"`
	WindowMs          int64   `json:"windowMs"`
	UserTier          string  `json:"userTier"`
	RetryAfterSeconds int64   `json:"retryAfterSeconds"`
	Upgrade           *string `json:"upgrade"`
	Degraded          bool    `json:"degraded"`
}

// DimensionUsage is one row of a usage report.
type DimensionUsage struct {
	Dimension string  `json:"dimension"`
	Usage     int64   `json:"usage"`
	Limit     int64   `json:"limit"`
	Remaining int64   `json:"remaining"`
	WindowMs  int64   `json:"windowMs"`
	ResetAt   int64   `json:"resetAt"`
	Upgrade   *string `json:"upgrade"`
}

// UsageReport lists the caller's current consumption.
type UsageReport struct {
	Subject    string           `json:"subject"`
	UserTier   string           `json:"userTier"`
	Dimensions []DimensionUsage `json:"dimensions"`
}
