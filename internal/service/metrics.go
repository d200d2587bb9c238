package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 发送结果标签
const (
	statusSent      = "sent"
	statusFailed    = "failed"
	statusSkipped   = "skipped"
	statusDuplicate = "duplicate"
	statusScheduled = "scheduled"
)

var (
	notifySendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mas_notify_send_total",
		Help: "Notification delivery attempts by channel and outcome.",
	}, []string{"channel", "status"})

	roleFieldSyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mas_role_field_sync_total",
		Help: "Permission matrix cells touched by registry maintenance.",
	}, []string{"result"})
)

func observeMatrix(r MatrixReport) {
	roleFieldSyncTotal.WithLabelValues("created").Add(float64(r.Created))
	roleFieldSyncTotal.WithLabelValues("upgraded").Add(float64(r.Upgraded))
	roleFieldSyncTotal.WithLabelValues("pruned").Add(float64(r.Pruned))
	roleFieldSyncTotal.WithLabelValues("failed").Add(float64(r.Failed))
}
