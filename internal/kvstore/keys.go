package kvstore

// Key layout. Everything keyed by thread id is torn down on reset.

func ThreadKey(customerID string) string { return "thread:" + customerID }
func ChatKey(customerID string) string { return "chat:" + customerID }
func RunLockKey(threadID string) string { return "lock:run:" + threadID }
func PaymentWaitingKey(threadID string) string { return "payment:waiting:" + threadID }
func PaymentOrderKey(threadID string) string { return "payment:order:" + threadID }
func PendingOrderKey(threadID string) string { return "order:pending:" + threadID }
func OrderCacheKey(number string) string { return "order:cache:" + number }
func TrackingKey(code string) string { return "tracking:" + code }
func TrackingNoticeKey(code string) string { return "tracking:notified:" + code }
func InboundSeenKey(messageID string) string { return "inbound:seen:" + messageID }

// ThreadStatePatterns returns glob patterns covering per-thread workflow state.
func ThreadStatePatterns(threadID string) []string {
	return []string{
		"payment:*:" + threadID,
		PendingOrderKey(threadID),
	}
}
