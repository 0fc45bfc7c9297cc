// metrics.go — Prometheus-метрики запуска и отправка в Pushgateway.
//
// Процесс живёт один запуск, поэтому метрики собираются в собственный реестр
// и отправляются в Pushgateway после финализации:
//   - account_lifecycle_results_total{status,action} — исходы по учёткам
//   - account_lifecycle_skips_total{reason} — пропуски по причинам
//   - account_lifecycle_run_duration_seconds — длительность запуска
//   - account_lifecycle_last_run_success — 1, если запуск завершён без фатальной ошибки
//   - account_lifecycle_last_run_timestamp_seconds — время окончания запуска
//   - account_lifecycle_retry_accounts — размер списка повтора
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/ethorneloe/identity-lifecycle/internal/domain/model"
)

// Recorder — метрики одного запуска.
type Recorder struct {
	registry *prometheus.Registry

	results       *prometheus.CounterVec
	skips         *prometheus.CounterVec
	duration      prometheus.Gauge
	lastSuccess   prometheus.Gauge
	lastTimestamp prometheus.Gauge
	retry         prometheus.Gauge

	mode model.Mode
}

// NewRecorder создаёт метрики в отдельном реестре.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		results: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_lifecycle_results_total",
				Help: "Исходы обработки учёток по статусу и действию",
			},
			[]string{"status", "action"},
		),
		skips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_lifecycle_skips_total",
				Help: "Пропущенные учётки по причине",
			},
			[]string{"reason"},
		),
		duration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "account_lifecycle_run_duration_seconds",
			Help: "Длительность последнего запуска в секундах",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "account_lifecycle_last_run_success",
			Help: "1, если последний запуск завершён без фатальной ошибки",
		}),
		lastTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "account_lifecycle_last_run_timestamp_seconds",
			Help: "Время окончания последнего запуска (unix)",
		}),
		retry: factory.NewGauge(prometheus.GaugeOpts{
			Name: "account_lifecycle_retry_accounts",
			Help: "Количество учёток в списке повтора",
		}),
	}
}

// Registry возвращает реестр метрик (для тестов и экспорта).
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Record переносит итог запуска в метрики.
func (r *Recorder) Record(out *model.RunOutput) {
	r.mode = out.Mode
	for _, e := range out.Results {
		r.results.WithLabelValues(string(e.Status), string(e.Action)).Inc()
		if e.Status == model.StatusSkipped {
			r.skips.WithLabelValues(string(e.SkipReason)).Inc()
		}
	}
	r.duration.Set(out.FinishedAt.Sub(out.StartedAt).Seconds())
	if out.Success {
		r.lastSuccess.Set(1)
	} else {
		r.lastSuccess.Set(0)
	}
	r.lastTimestamp.Set(float64(out.FinishedAt.Unix()))
	r.retry.Set(float64(len(out.Retry)))
}

// Push отправляет метрики в Pushgateway, заменяя группу job/mode.
func (r *Recorder) Push(ctx context.Context, url, job string, httpClient *http.Client) error {
	pusher := push.New(url, job).Gatherer(r.registry)
	if r.mode != "" {
		pusher = pusher.Grouping("mode", string(r.mode))
	}
	if httpClient != nil {
		pusher = pusher.Client(httpClient)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("отправка метрик в %s: %w", url, err)
	}
	return nil
}
