package governor

// Zone is the allocation-policy band derived from window usage.
type Zone int

const (
	// ZoneNormal grants the router's recommendation verbatim (<80%).
	ZoneNormal Zone = iota
	// ZoneThrottle contains cost by forcing the standard tier (80-95%).
	ZoneThrottle
	// ZoneCritical grants only high-priority work, always standard (>95%).
	ZoneCritical
	// ZoneExhausted denies unconditionally (no budget remaining).
	ZoneExhausted
)

// String returns a human-readable representation of the zone.
func (z Zone) String() string {
	switch z {
	case ZoneNormal:
		return "normal"
	case ZoneThrottle:
		return "throttle"
	case ZoneCritical:
		return "critical"
	case ZoneExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// criticalUsagePct is the boundary between throttle and critical zones.
const criticalUsagePct = 95.0

// criticalMinPriority is the priority floor for grants in the critical zone.
const criticalMinPriority = 8

// zoneFor maps usage to a zone. The throttle boundary comes from the
// window's own threshold so configuration stays in one place.
func zoneFor(usagePct float64, remaining int, throttlePct float64) Zone {
	switch {
	case remaining == 0:
		return ZoneExhausted
	case usagePct > criticalUsagePct:
		return ZoneCritical
	case usagePct >= throttlePct:
		return ZoneThrottle
	default:
		return ZoneNormal
	}
}
