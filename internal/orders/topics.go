package orders

// Default topic names; deployments override them through configuration.
const (
	TopicNotifications = "marketplace.notifications"
	TopicPaymentStatus = "payment.status"
)
