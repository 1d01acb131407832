package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jacksonlee411/issuefields/internal/metrics"
	"github.com/jacksonlee411/issuefields/internal/routing"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func withRequestLog(classifier *routing.Classifier, logger *zap.Logger, rec metrics.Recorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(sr, r)

		status := sr.status
		if status == 0 {
			status = http.StatusOK
		}
		rc := classifier.Classify(r.URL.Path)
		elapsed := time.Since(start)
		rec.HTTPRequest(string(rc), r.Method, status, elapsed)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route_class", string(rc)),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
		}
		if p, ok := currentPrincipal(r.Context()); ok {
			fields = append(fields, zap.String("user", p.Name))
		}
		switch {
		case status >= 500:
			logger.Error("request", fields...)
		case rc == routing.RouteClassOps:
			logger.Debug("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	})
}
