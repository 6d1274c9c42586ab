package settings

// Messaging-policy values gating who may start a direct message.
const (
	PolicyEveryone = "everyone"
	PolicyFriends  = "friends"
	PolicyNobody   = "nobody"
)

// DefaultPolicy applies when a user has no stored setting.
const DefaultPolicy = PolicyEveryone
