package config

import "trading-order-core/libs/resilience"

// FabricTunables translates the §4.4 config rows into resilience.Tunables,
// keeping libs/resilience free of a dependency on service-specific config.
func (c BreakersConfig) FabricTunables() resilience.FabricTunables {
	return resilience.FabricTunables{
		Order:     toTunables("order", c.Order),
		Risk:      toTunables("risk", c.Risk),
		Broker:    toTunables("broker", c.Broker),
		Portfolio: toTunables("portfolio", c.Portfolio),
	}
}

func toTunables(name string, t BreakerTunables) resilience.Tunables {
	return resilience.Tunables{
		Name:             name,
		FailureRatePct:   t.FailureRatePct,
		SlowCallRatePct:  t.SlowCallRatePct,
		SlowCallDuration: t.SlowCallDuration,
		SlidingWindow:    t.SlidingWindow,
		MinCalls:         t.MinCalls,
		OpenDuration:     t.OpenDuration,
		HalfOpenTrials:   uint32(t.HalfOpenTrials),
	}
}
