package redisx

import "time"

const (
	// Idempotency create order: idem:order:create:{idempotency_key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Mirror document: hash mirror:order:{order_id} {rev, doc}
	KeyMirrorOrder = "mirror:order:%s"

	// Mirror indices, sorted sets of order ids scored by created_at (unix ms)
	KeyMirrorAll      = "mirror:idx:all"
	KeyMirrorCustomer = "mirror:idx:customer:%s"
	KeyMirrorVendor   = "mirror:idx:vendor:%s"

	// Dedup event processing: dedup:{consumer}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)
