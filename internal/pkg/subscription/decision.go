package subscription

// DenyReason classifies why content creation was refused.
type DenyReason string

const (
	DenyContentType  DenyReason = "content_type_not_allowed"
	DenyLimitReached DenyReason = "limit_reached"
	DenyInactive     DenyReason = "subscription_inactive"
	DenyFileTooLarge DenyReason = "file_too_large"
	DenyUnknownTier  DenyReason = "unknown_tier"
)

// Decision is the result of an entitlement check.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	Message string
}

func deny(reason DenyReason, msg string) Decision {
	return Decision{Allowed: false, Reason: reason, Message: msg}
}
