package middleware

import (
	"log/slog"
	"strconv"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/auth-service/internal/metrics"
)

// RequestLogger writes one structured line per request and feeds the HTTP
// metrics.  It runs the error handler itself so the logged status is the
// one the client saw.
func RequestLogger(log *slog.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		HandleError:  true,
		LogMethod:    true,
		LogURIPath:   true,
		LogRoutePath: true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogUserAgent: true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			path := v.RoutePath
			if path == "" {
				path = v.URIPath
			}
			attrs := []any{
				slog.String("method", v.Method),
				slog.String("path", path),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("client_ip", v.RemoteIP),
				slog.String("user_agent", v.UserAgent),
				slog.String("request_id", v.RequestID),
				slog.String("user_id", userID(c)),
			}
			switch {
			case v.Status >= 500:
				log.Error("request", append(attrs, slog.Any("err", v.Error))...)
			case v.Error != nil:
				log.Warn("request", append(attrs, slog.String("err", v.Error.Error()))...)
			default:
				log.Info("request", attrs...)
			}

			if m != nil {
				status := strconv.Itoa(v.Status)
				m.RequestCount.WithLabelValues(v.Method, path, status).Inc()
				m.RequestDuration.WithLabelValues(v.Method, path, status).Observe(v.Latency.Seconds())
			}
			return nil
		},
	})
}
