package accountant

import (
	"hma-trading-bot/internal/engine"
	"hma-trading-bot/internal/gateway"
)

// UpdateStopLevel refreshes the stop level for a position at the current
// mark price. The level only ever ratchets in the position's favor: for
// a long it moves up or stays, for a short down or stays.
//
// HighWaterMark stores the most favorable mark seen: the highest for a
// long, the lowest for a short.
func UpdateStopLevel(pos *engine.ActivePosition, cfg engine.TrailingConfig, staticStopPoints float64) {
	long := pos.Side != gateway.SideSell

	// Seed the static stop once
	if pos.StopLevel == 0 && staticStopPoints > 0 {
		if long {
			pos.StopLevel = pos.BuyPrice - staticStopPoints
		} else {
			pos.StopLevel = pos.BuyPrice + staticStopPoints
		}
	}

	if !cfg.Enabled {
		return
	}

	// Advance the favorable extreme
	if pos.HighWaterMark == 0 {
		pos.HighWaterMark = pos.BuyPrice
	}
	if long && pos.MarkPrice > pos.HighWaterMark {
		pos.HighWaterMark = pos.MarkPrice
	}
	if !long && pos.MarkPrice < pos.HighWaterMark {
		pos.HighWaterMark = pos.MarkPrice
	}

	offset := cfg.Offset
	if offset <= 0 {
		// Activate-then-trail: no trailing until the position is
		// ActivatePoints in profit, then trail at TrailPoints
		if !pos.TrailingActivated {
			if long && pos.MarkPrice >= pos.BuyPrice+cfg.ActivatePoints {
				pos.TrailingActivated = true
			}
			if !long && pos.MarkPrice <= pos.BuyPrice-cfg.ActivatePoints {
				pos.TrailingActivated = true
			}
		}
		if !pos.TrailingActivated {
			return
		}
		offset = cfg.TrailPoints
	}
	if offset <= 0 {
		return
	}

	if long {
		candidate := pos.HighWaterMark - offset
		if candidate > pos.StopLevel {
			pos.StopLevel = candidate
		}
	} else {
		candidate := pos.HighWaterMark + offset
		if pos.StopLevel == 0 || candidate < pos.StopLevel {
			pos.StopLevel = candidate
		}
	}
}

// StopHit reports whether the mark has breached the stop level
func StopHit(pos *engine.ActivePosition) bool {
	if pos.StopLevel == 0 {
		return false
	}
	if pos.Side == gateway.SideSell {
		return pos.MarkPrice >= pos.StopLevel
	}
	return pos.MarkPrice <= pos.StopLevel
}

// TargetHit reports whether the mark has reached the profit target
func TargetHit(pos *engine.ActivePosition, targetPoints float64) bool {
	if targetPoints <= 0 {
		return false
	}
	if pos.Side == gateway.SideSell {
		return pos.MarkPrice <= pos.BuyPrice-targetPoints
	}
	return pos.MarkPrice >= pos.BuyPrice+targetPoints
}
