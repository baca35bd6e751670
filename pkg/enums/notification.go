package enums

import "fmt"

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypeContributionReceived  NotificationType = "contribution_received"
	NotificationTypeContributionReminder  NotificationType = "contribution_reminder"
	NotificationTypeContributionMissed    NotificationType = "contribution_missed"
	NotificationTypeSubscriptionCompleted NotificationType = "subscription_completed"
	NotificationTypeAccountFrozen         NotificationType = "account_frozen"
	NotificationTypeBonusCredited         NotificationType = "bonus_credited"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeContributionReceived,
	NotificationTypeContributionReminder,
	NotificationTypeContributionMissed,
	NotificationTypeSubscriptionCompleted,
	NotificationTypeAccountFrozen,
	NotificationTypeBonusCredited,
}

// IsValid reports whether the value matches the notification_type enum.
func (v NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw input into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
