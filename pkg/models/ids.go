package models

import "github.com/google/uuid"

// ID prefixes make resource kinds recognizable in logs and webhook payloads.
const (
	prefixPair         = "qap_"
	prefixDocument     = "doc_"
	prefixDraft        = "drf_"
	prefixQuery        = "qry_"
	prefixEvent        = "evt_"
	prefixDelivery     = "dlv_"
	prefixSubscription = "whs_"
)

func NewPairID() string         { return prefixPair + uuid.NewString() }
func NewDocumentID() string     { return prefixDocument + uuid.NewString() }
func NewDraftID() string        { return prefixDraft + uuid.NewString() }
func NewQueryID() string        { return prefixQuery + uuid.NewString() }
func NewEventID() string        { return prefixEvent + uuid.NewString() }
func NewDeliveryID() string     { return prefixDelivery + uuid.NewString() }
func NewSubscriptionID() string { return prefixSubscription + uuid.NewString() }
