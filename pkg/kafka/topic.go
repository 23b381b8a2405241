package kafka

// TopicPrefix namespaces every topic this module publishes to.
const TopicPrefix = "storefront"

// Topic builds "storefront.<aggregate>.<action>", e.g. storefront.cart.updated.
func Topic(aggregate, action string) string {
	return TopicPrefix + "." + aggregate + "." + action
}
