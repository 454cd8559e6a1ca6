package events

// Topic constants for domain events emitted by the quoting service.
const (
	TopicQuoteCreated       = "quote.created"
	TopicQuoteSaved         = "quote.saved"
	TopicQuoteStatusChanged = "quote.status_changed"
	TopicQuoteLockAcquired  = "quote.lock_acquired"
	TopicQuoteLockReleased  = "quote.lock_released"
	TopicQuoteSaveConflict  = "quote.save_conflict"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicQuoteCreated,
		TopicQuoteSaved,
		TopicQuoteStatusChanged,
		TopicQuoteLockAcquired,
		TopicQuoteLockReleased,
		TopicQuoteSaveConflict,
	}
}
