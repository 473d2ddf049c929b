package streamsync

import "github.com/forkpoint/orderfeed/internal/orderfeed"

const (
	restaurantTopicPrefix = "orders.restaurant."
	userTopicPrefix       = "orders.user."
)

// ResolveTopics derives the subscription topics for an identity. An absent
// identity, or one missing the id its kind requires, yields no topics; that
// is an expected transient state during login, so it warns rather than
// erroring.
func ResolveTopics(identity orderfeed.Identity, logger Logger) []string {
	switch identity.Kind {
	case orderfeed.IdentityRestaurant:
		if identity.ID == "" {
			logf(logger, "identity kind %q has no id; no topics resolved", identity.Kind)
			return nil
		}
		return []string{restaurantTopicPrefix + identity.ID}
	case orderfeed.IdentityUser:
		if identity.ID == "" {
			logf(logger, "identity kind %q has no id; no topics resolved", identity.Kind)
			return nil
		}
		return []string{userTopicPrefix + identity.ID}
	case "":
		return nil
	default:
		logf(logger, "unknown identity kind %q; no topics resolved", identity.Kind)
		return nil
	}
}

func logf(logger Logger, format string, args ...any) {
	if logger == nil {
		return
	}
	logger.Printf(format, args...)
}
