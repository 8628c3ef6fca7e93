// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package accountant

import (
	"time"

	"github.com/teradata-labs/tokenwatch/pkg/types"
)

// WindowUsage is a rolling-window aggregate with its percentage against the
// corresponding limit.
type WindowUsage struct {
	Tokens     int     `json:"tokens"`
	Cost       float64 `json:"cost"`
	Requests   int     `json:"requests"`
	Limit      int     `json:"limit"`
	Percentage float64 `json:"percentage"`
}

// ProviderUsage is the rolled-up usage for one enabled provider. Windows are
// strictly rolling: daily = now-24h, weekly = now-7d, monthly = now-30d.
type ProviderUsage struct {
	ProviderID          string               `json:"provider_id"`
	Name                string               `json:"name"`
	Currency            string               `json:"currency"`
	TotalTokens         int                  `json:"total_tokens"`
	TotalCost           float64              `json:"total_cost"`
	TotalRequests       int                  `json:"total_requests"`
	AvgTokensPerRequest float64              `json:"avg_tokens_per_request"`
	Daily               WindowUsage          `json:"daily"`
	Weekly              WindowUsage          `json:"weekly"`
	Monthly             WindowUsage          `json:"monthly"`
	Status              types.ProviderStatus `json:"status"`
}

// LimitPrediction estimates when a provider will hit its daily limit, from
// the average hourly usage over the last 24 hourly buckets.
type LimitPrediction struct {
	ProviderID      string  `json:"provider_id"`
	AvgHourlyTokens float64 `json:"avg_hourly_tokens"`
	DailyTokens     int     `json:"daily_tokens"`
	DailyLimit      int     `json:"daily_limit"`
	HoursToLimit    float64 `json:"hours_to_limit"`
	Confidence      float64 `json:"confidence"`
	Recommendation  string  `json:"recommendation"`
}

// Prediction recommendation ladder.
const (
	RecommendStop     = "stop"
	RecommendCaution  = "caution"
	RecommendUpgrade  = "upgrade"
	RecommendContinue = "continue"
)

// GetProviderUsage returns rolled-up usage for every enabled provider, in
// registration order.
func (a *Accountant) GetProviderUsage() []ProviderUsage {
	now := time.Now()

	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []ProviderUsage
	for _, id := range a.order {
		p := a.providers[id]
		if !p.Enabled {
			continue
		}

		u := ProviderUsage{
			ProviderID: p.ID,
			Name:       p.Name,
			Currency:   p.Pricing.Currency,
		}
		dayCut := now.Add(-24 * time.Hour)
		weekCut := now.Add(-7 * 24 * time.Hour)
		monthCut := now.Add(-30 * 24 * time.Hour)

		for _, r := range a.records {
			if r.Provider != p.ID {
				continue
			}
			u.TotalTokens += r.TotalTokens
			u.TotalCost += r.Cost
			u.TotalRequests++
			if r.Timestamp.After(dayCut) {
				addWindow(&u.Daily, r)
			}
			if r.Timestamp.After(weekCut) {
				addWindow(&u.Weekly, r)
			}
			if r.Timestamp.After(monthCut) {
				addWindow(&u.Monthly, r)
			}
		}
		if u.TotalRequests > 0 {
			u.AvgTokensPerRequest = float64(u.TotalTokens) / float64(u.TotalRequests)
		}

		daily := p.Limits.TokensPerDay
		finishWindow(&u.Daily, daily)
		finishWindow(&u.Weekly, daily*7)
		finishWindow(&u.Monthly, daily*30)
		u.Status = windowStatus(u.Daily.Percentage, u.Weekly.Percentage, u.Monthly.Percentage)

		out = append(out, u)
	}
	return out
}

func addWindow(w *WindowUsage, r types.UsageRecord) {
	w.Tokens += r.TotalTokens
	w.Cost += r.Cost
	w.Requests++
}

func finishWindow(w *WindowUsage, limit int) {
	w.Limit = limit
	if limit > 0 {
		w.Percentage = float64(w.Tokens) / float64(limit) * 100
	}
}

// windowStatus derives the provider status from the worst window. The
// thresholds are strict: exactly 95% is critical, not exceeded.
func windowStatus(percentages ...float64) types.ProviderStatus {
	max := 0.0
	for _, pct := range percentages {
		if pct > max {
			max = pct
		}
	}
	switch {
	case max > 95:
		return types.ProviderExceeded
	case max > 80:
		return types.ProviderCritical
	case max > 60:
		return types.ProviderWarning
	default:
		return types.ProviderHealthy
	}
}

// GetLimitPredictions projects daily-limit exhaustion per provider. A
// provider needs at least 3 records in the last 24h to get a prediction.
func (a *Accountant) GetLimitPredictions() []LimitPrediction {
	now := time.Now()
	dayCut := now.Add(-24 * time.Hour)

	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []LimitPrediction
	for _, id := range a.order {
		p := a.providers[id]
		if !p.Enabled || p.Limits.TokensPerDay <= 0 {
			continue
		}

		var buckets [24]float64
		count, dailyTokens := 0, 0
		for _, r := range a.records {
			if r.Provider != p.ID || !r.Timestamp.After(dayCut) {
				continue
			}
			count++
			dailyTokens += r.TotalTokens
			bucket := int(now.Sub(r.Timestamp).Hours())
			if bucket < 0 {
				bucket = 0
			}
			if bucket > 23 {
				bucket = 23
			}
			buckets[bucket] += float64(r.TotalTokens)
		}
		if count < 3 {
			continue
		}

		mean := float64(dailyTokens) / 24
		variance := 0.0
		for _, b := range buckets {
			variance += (b - mean) * (b - mean)
		}
		variance /= 24

		confidence := 0.1
		if mean > 0 {
			confidence = 1 - variance/(mean*mean)
			if confidence < 0.1 {
				confidence = 0.1
			}
		}

		pred := LimitPrediction{
			ProviderID:      p.ID,
			AvgHourlyTokens: mean,
			DailyTokens:     dailyTokens,
			DailyLimit:      p.Limits.TokensPerDay,
			Confidence:      confidence,
		}
		if mean > 0 {
			pred.HoursToLimit = float64(p.Limits.TokensPerDay-dailyTokens) / mean
		}

		switch {
		case mean > 0 && pred.HoursToLimit < 2:
			pred.Recommendation = RecommendStop
		case mean > 0 && pred.HoursToLimit < 6:
			pred.Recommendation = RecommendCaution
		case mean > 0 && pred.HoursToLimit < 12 && confidence < 0.5:
			pred.Recommendation = RecommendUpgrade
		default:
			pred.Recommendation = RecommendContinue
		}

		out = append(out, pred)
	}
	return out
}
