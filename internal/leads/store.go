package leads

import "context"

// Store defines the interface for persisting lead events.
type Store interface {
	SaveLead(ctx context.Context, event *LeadSubmittedEvent) error
}
