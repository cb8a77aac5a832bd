// Package metrics 定义并注册 Prometheus 指标。
//
// 指标对象在包加载时创建，可以直接使用；InitMetrics 只负责把它们
// 注册到默认 Registry（重复调用是安全的），测试里不注册也能打点。
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PollCyclesTotal 轮询周期总数，按结果分类
	// (success / unchanged / fetch_error / persist_error / malformed)。
	PollCyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockhunter_poll_cycles_total",
		Help: "Number of poll cycles by outcome.",
	}, []string{"outcome"})

	// SnapshotDiffsTotal 检测到有效差异的周期总数。
	SnapshotDiffsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockhunter_snapshot_diffs_total",
		Help: "Number of poll cycles that produced a non-empty diff.",
	})

	// AlertsTotal 产生的告警条数，按类别分类。
	AlertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockhunter_alerts_total",
		Help: "Number of alert-worthy conditions by kind.",
	}, []string{"kind"})

	// NotifyAttemptsTotal 通知投递尝试次数，按结果分类 (ok / retry / failed)。
	NotifyAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockhunter_notify_attempts_total",
		Help: "Notification delivery attempts by result.",
	}, []string{"result"})

	// ActiveSchedules 当前注册在编排器里的定时器数量。
	ActiveSchedules = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stockhunter_active_schedules",
		Help: "Number of cron timers currently registered.",
	})

	// ScheduleEventsTotal 处理的调度变更事件数，按操作分类 (register / cancel / noop)。
	ScheduleEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockhunter_schedule_events_total",
		Help: "Schedule change events applied by action.",
	}, []string{"action"})

	// ScrapeDuration 单次抓取耗时（秒）。
	ScrapeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stockhunter_scrape_duration_seconds",
		Help:    "Duration of scraper calls.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	// RateLimitWaitDuration 抓取限流等待耗时（秒）。
	RateLimitWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stockhunter_ratelimit_wait_seconds",
		Help:    "Time spent waiting for a rate limit token.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	// RateLimitTimeoutTotal 限流等待超时次数。
	RateLimitTimeoutTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockhunter_ratelimit_timeouts_total",
		Help: "Rate limit waits aborted by context cancellation.",
	})

	// HTTPRequestsTotal HTTP 请求总数，按方法、路由和状态码分类。
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockhunter_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	// WatchDuplicatePreventedTotal 因 URL 去重被拒绝的监控注册次数。
	WatchDuplicatePreventedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockhunter_watch_duplicate_prevented_total",
		Help: "Watch registrations rejected by URL dedup.",
	})
)

var registerOnce sync.Once

// InitMetrics 将所有指标注册到默认 Registry。重复调用是安全的。
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			PollCyclesTotal,
			SnapshotDiffsTotal,
			AlertsTotal,
			NotifyAttemptsTotal,
			ActiveSchedules,
			ScheduleEventsTotal,
			ScrapeDuration,
			RateLimitWaitDuration,
			RateLimitTimeoutTotal,
			HTTPRequestsTotal,
			WatchDuplicatePreventedTotal,
		)
	})
}
