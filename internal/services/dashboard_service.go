package services

import (
	"context"
	"math"
	"sort"
	"time"

	"resolvify/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DashboardService 仪表盘统计服务，只读
type DashboardService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewDashboardService 创建仪表盘服务
func NewDashboardService(db *gorm.DB, logger *logrus.Logger) *DashboardService {
	if logger == nil {
		logger = logrus.New()
	}
	return &DashboardService{db: db, logger: logger}
}

// DashboardStats 概览统计
type DashboardStats struct {
	TotalTickets        int64            `json:"total_tickets"`
	OpenTickets         int64            `json:"open_tickets"`
	ResolvedTickets     int64            `json:"resolved_tickets"`
	AutoResolvedTickets int64            `json:"auto_resolved_tickets"`
	AutoResolutionRate  float64          `json:"auto_resolution_rate"`
	PendingApprovals    int64            `json:"pending_approvals"`
	FailedAutomations   int64            `json:"failed_automations"`
	TicketsByCategory   map[string]int64 `json:"tickets_by_category"`
	TicketsByStatus     map[string]int64 `json:"tickets_by_status"`
	RecentTickets       []models.Ticket  `json:"recent_tickets"`
}

// ResolutionTimeMetrics 处理时长统计（分钟）
type ResolutionTimeMetrics struct {
	AverageResolutionMinutes float64 `json:"average_resolution_minutes"`
	MedianResolutionMinutes  float64 `json:"median_resolution_minutes"`
	AutoResolvedAverage      float64 `json:"auto_resolved_average"`
	ManualResolvedAverage    float64 `json:"manual_resolved_average"`
	TotalResolved            int     `json:"total_resolved"`
	AutoResolvedCount        int     `json:"auto_resolved_count"`
	ManualResolvedCount      int     `json:"manual_resolved_count"`
}

// CategoryPerformance 单类别的自动化成功率
type CategoryPerformance struct {
	Total        int64   `json:"total"`
	AutoResolved int64   `json:"auto_resolved"`
	SuccessRate  float64 `json:"success_rate"`
}

// Stats 概览统计
func (s *DashboardService) Stats(ctx context.Context) (*DashboardStats, error) {
	db := s.db.WithContext(ctx)
	stats := &DashboardStats{
		TicketsByCategory: make(map[string]int64),
		TicketsByStatus:   make(map[string]int64),
	}

	if err := db.Model(&models.Ticket{}).Count(&stats.TotalTickets).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Ticket{}).
		Where("status IN ?", []string{models.TicketStatusNew, models.TicketStatusAnalyzing, models.TicketStatusInProgress}).
		Count(&stats.OpenTickets).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Ticket{}).
		Where("status = ?", models.TicketStatusResolved).
		Count(&stats.ResolvedTickets).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Ticket{}).
		Where("auto_resolved = ?", true).
		Count(&stats.AutoResolvedTickets).Error; err != nil {
		return nil, err
	}
	if stats.TotalTickets > 0 {
		stats.AutoResolutionRate = round2(float64(stats.AutoResolvedTickets) / float64(stats.TotalTickets) * 100)
	}
	if err := db.Model(&models.Ticket{}).
		Where("status = ?", models.TicketStatusAwaitingApproval).
		Count(&stats.PendingApprovals).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.AutomationExecution{}).
		Where("status = ?", models.AutomationStatusFailed).
		Count(&stats.FailedAutomations).Error; err != nil {
		return nil, err
	}

	type bucket struct {
		Key   string
		Count int64
	}
	var byCategory []bucket
	if err := db.Model(&models.Ticket{}).
		Select("category as key, count(id) as count").
		Group("category").Scan(&byCategory).Error; err != nil {
		return nil, err
	}
	for _, b := range byCategory {
		stats.TicketsByCategory[b.Key] = b.Count
	}

	var byStatus []bucket
	if err := db.Model(&models.Ticket{}).
		Select("status as key, count(id) as count").
		Group("status").Scan(&byStatus).Error; err != nil {
		return nil, err
	}
	for _, b := range byStatus {
		stats.TicketsByStatus[b.Key] = b.Count
	}

	if err := db.Order("created_at desc").Limit(10).Find(&stats.RecentTickets).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// ResolutionTimes 最近 N 天已解决工单的处理时长统计
func (s *DashboardService) ResolutionTimes(ctx context.Context, days int) (*ResolutionTimeMetrics, error) {
	if days < 1 {
		days = 30
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	var resolved []models.Ticket
	if err := s.db.WithContext(ctx).
		Where("status = ? AND created_at >= ? AND resolved_at IS NOT NULL", models.TicketStatusResolved, cutoff).
		Find(&resolved).Error; err != nil {
		return nil, err
	}

	m := &ResolutionTimeMetrics{}
	if len(resolved) == 0 {
		return m, nil
	}

	var all, auto, manual []float64
	for _, t := range resolved {
		minutes := t.ResolvedAt.Sub(t.CreatedAt).Minutes()
		all = append(all, minutes)
		if t.AutoResolved {
			auto = append(auto, minutes)
		} else {
			manual = append(manual, minutes)
		}
	}
	sort.Float64s(all)

	m.TotalResolved = len(resolved)
	m.AutoResolvedCount = len(auto)
	m.ManualResolvedCount = len(manual)
	m.AverageResolutionMinutes = round2(mean(all))
	m.MedianResolutionMinutes = round2(all[len(all)/2])
	m.AutoResolvedAverage = round2(mean(auto))
	m.ManualResolvedAverage = round2(mean(manual))
	return m, nil
}

// CategoryPerformanceReport 各可自动化类别的成功率
func (s *DashboardService) CategoryPerformanceReport(ctx context.Context) (map[string]CategoryPerformance, error) {
	categories := []string{
		models.CategoryPasswordReset,
		models.CategoryAccountUnlock,
		models.CategoryVPNIssue,
		models.CategoryDeviceCompliance,
		models.CategoryAccessRequest,
	}

	report := make(map[string]CategoryPerformance, len(categories))
	for _, cat := range categories {
		var perf CategoryPerformance
		if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
			Where("category = ?", cat).Count(&perf.Total).Error; err != nil {
			return nil, err
		}
		if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
			Where("category = ? AND auto_resolved = ?", cat, true).
			Count(&perf.AutoResolved).Error; err != nil {
			return nil, err
		}
		if perf.Total > 0 {
			perf.SuccessRate = round2(float64(perf.AutoResolved) / float64(perf.Total) * 100)
		}
		report[cat] = perf
	}
	return report, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
