// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package accountant

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PricingSource fetches current per-model pricing for a provider. A refresh
// failure leaves the existing pricing untouched.
type PricingSource interface {
	FetchPricing(ctx context.Context, providerID string) (map[string]ModelPricing, error)
}

// minPricingInterval returns the smallest update interval among auto-update
// providers, or 0 when none auto-update.
func (a *Accountant) minPricingInterval() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var min time.Duration
	for _, p := range a.providers {
		if !p.Pricing.AutoUpdate || p.Pricing.UpdateInterval <= 0 {
			continue
		}
		if min == 0 || p.Pricing.UpdateInterval < min {
			min = p.Pricing.UpdateInterval
		}
	}
	return min
}

// pricingRefreshLoop refreshes pricing for auto-update providers at the
// fleet-wide minimum interval.
func (a *Accountant) pricingRefreshLoop(interval time.Duration) {
	defer a.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.refreshPricing()
		}
	}
}

// refreshPricing applies fetched pricing to each auto-update provider.
func (a *Accountant) refreshPricing() {
	a.mu.RLock()
	var ids []string
	for _, id := range a.order {
		if a.providers[id].Pricing.AutoUpdate {
			ids = append(ids, id)
		}
	}
	a.mu.RUnlock()

	for _, id := range ids {
		pricing, err := a.pricingSource.FetchPricing(a.ctx, id)
		if err != nil {
			a.logger.Warn("Pricing refresh failed, keeping previous pricing",
				zap.String("provider", id),
				zap.Error(err))
			continue
		}

		a.mu.Lock()
		p := a.providers[id]
		updated := 0
		for modelID, mp := range pricing {
			if m := p.Model(modelID); m != nil {
				m.Pricing = mp
				updated++
			}
		}
		a.mu.Unlock()

		a.logger.Info("Refreshed provider pricing",
			zap.String("provider", id),
			zap.Int("models", updated))
		a.requestSave()
	}
}
