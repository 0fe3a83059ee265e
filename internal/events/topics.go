package events

// Topic constants for domain events emitted by the storefront.
const (
	TopicOrderCreated   = "order.created"
	TopicOrderPaid      = "order.paid"
	TopicOrderCanceled  = "order.canceled"
	TopicPaymentFailed  = "payment.failed"
	TopicPaymentExpired = "payment.expired"
	TopicOrderReady     = "order.ready"
	TopicOrderPickedUp  = "order.picked_up"
)

var knownTopics = func() map[string]struct{} {
	set := make(map[string]struct{}, len(DefaultTopics()))
	for _, topic := range DefaultTopics() {
		set[topic] = struct{}{}
	}
	return set
}()

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicOrderCreated,
		TopicOrderPaid,
		TopicOrderCanceled,
		TopicPaymentFailed,
		TopicPaymentExpired,
		TopicOrderReady,
		TopicOrderPickedUp,
	}
}
