// Package events defines the outbound event taxonomy and the publisher
// that makes events durable before any webhook delivery is attempted.
package events

// Event kinds. The taxonomy is fixed; subscriptions reference these
// strings verbatim.
const (
	KindQueryCompleted          = "query.completed"
	KindQueryEscalated          = "query.escalated"
	KindDocumentIngested        = "document.ingested"
	KindDocumentArchived        = "document.archived"
	KindClassificationCompleted = "job.classification.completed"
	KindSessionEscalated        = "session.escalated"
	KindRegistryRefreshed       = "system.registry.refreshed"
)

// Kinds lists every valid event kind, in taxonomy order.
var Kinds = []string{
	KindQueryCompleted,
	KindQueryEscalated,
	KindDocumentIngested,
	KindDocumentArchived,
	KindClassificationCompleted,
	KindSessionEscalated,
	KindRegistryRefreshed,
}

// ValidKind reports whether kind is part of the taxonomy.
func ValidKind(kind string) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
