package redisx

import "time"

const (
	// Action link dari email: link:{token} -> {"deal_id","actor_id","kind"}
	KeyLink = "link:%s"

	// Replay response utk Idempotency-Key: idem:{actor}:{key} -> cached response
	KeyIdem = "idem:%s:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)
