package admission

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/rhuss/quotagate/pkg/api"
	"github.com/rhuss/quotagate/pkg/quota"
	"github.com/rhuss/quotagate/pkg/transport"
)

// UsageHandler serves the caller's current consumption for dims without
// charging anything. An empty dims reports every dimension. It must run
// after auth.Middleware.
func UsageHandler(admitter *quota.Admitter, dims []quota.Dimension, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	var ordered []quota.Dimension
	for _, d := range quota.EvaluationOrder {
		if len(dims) == 0 || slices.Contains(dims, d) {
			ordered = append(ordered, d)
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, apiErr := callerFromContext(r, logger)
		if apiErr != nil {
			transport.WriteAPIError(w, apiErr)
			return
		}

		report := api.UsageReport{
			Subject:    caller.Subject,
			UserTier:   string(caller.Tier),
			Dimensions: make([]api.DimensionUsage, 0, len(ordered)),
		}
		for _, dim := range ordered {
			d, err := admitter.Usage(r.Context(), caller, dim)
			if err != nil {
				if quota.IsStoreUnavailable(err) {
					logger.Warn("usage lookup failed", "dimension", dim, "error", err)
					transport.WriteErrorResponse(w, api.NewServerError("counter store unavailable"), http.StatusServiceUnavailable)
					return
				}
				logger.Error("usage lookup failed", "dimension", dim, "error", err)
				transport.WriteAPIError(w, api.NewServerError("usage lookup failed"))
				return
			}

			row := api.DimensionUsage{
				Dimension: string(dim),
				Usage:     d.Usage,
				Limit:     d.Limit,
				Remaining: d.Remaining(),
				WindowMs:  d.Window.Milliseconds(),
				ResetAt:   d.WindowEnd.UnixMilli(),
			}
			if d.UpgradeHint != "" {
				hint := d.UpgradeHint
				row.Upgrade = &hint
			}
			report.Dimensions = append(report.Dimensions, row)
		}

		transport.WriteJSON(w, http.StatusOK, report)
	})
}
