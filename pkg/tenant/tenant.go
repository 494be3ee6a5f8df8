package tenant

// OwnerID identifies the owner of a set of memories. Every stored record
// belongs to exactly one owner, and queries are always scoped to one owner.
type OwnerID string

// Context carries the owner scope for a chain of memory operations.
type Context struct {
	// OwnerID is mandatory and determines the memory isolation boundary
	OwnerID OwnerID

	// ConversationID is optional and groups records belonging to one chat
	ConversationID string
}

// NewContext creates a new Context with the specified owner ID and optional
// conversation ID.
func NewContext(ownerID OwnerID, conversationID string) Context {
	return Context{
		OwnerID:        ownerID,
		ConversationID: conversationID,
	}
}
