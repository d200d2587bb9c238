package service

import "strings"

// DispatchReport 一次通知批次的结果
type DispatchReport struct {
	Source     string `json:"source"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Duplicates int    `json:"duplicates"`
	Scheduled  int    `json:"scheduled"`
}

// deliveryLog 单个批次内的去重集合与计数，不跨批次共享
type deliveryLog struct {
	sent   map[string]uint // 地址 → 首次使用该地址的用户，群发地址为 0
	report *DispatchReport
}

func newDeliveryLog(source string) *deliveryLog {
	return &deliveryLog{
		sent:   make(map[string]uint),
		report: &DispatchReport{Source: source},
	}
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// seen 地址是否已在本批次使用过
func (l *deliveryLog) seen(addr string) (uint, bool) {
	userID, ok := l.sent[normalizeAddress(addr)]
	return userID, ok
}

func (l *deliveryLog) mark(addr string, userID uint) {
	l.sent[normalizeAddress(addr)] = userID
}

// record 累计结果并同步到全局计数器
func (l *deliveryLog) record(channel, status string) {
	switch status {
	case statusSent:
		l.report.Sent++
	case statusFailed:
		l.report.Failed++
	case statusSkipped:
		l.report.Skipped++
	case statusDuplicate:
		l.report.Duplicates++
	case statusScheduled:
		l.report.Scheduled++
	}
	notifySendTotal.WithLabelValues(channel, status).Inc()
}
