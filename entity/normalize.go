package entity

// NormalizeCT strips the counter attributes from a ct payload before it
// is stored. This is a kernel-compatibility workaround required by
// kernels older than 2.6.20 (original_source/src/internal_cache.c
// unsets ATTR_*_COUNTER_* and ATTR_USE on every inbound payload before
// populate/event_new/event_upd/resync store it); isolated here in one
// helper invoked on every inbound kernel payload, per spec §9.
func NormalizeCT(p *CTPayload) {
	p.CounterOrigBytes = 0
	p.CounterOrigPackets = 0
	p.CounterReplBytes = 0
	p.CounterReplPackets = 0
	p.CountersSet = false
}
