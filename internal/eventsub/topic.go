package eventsub

// TopicKind enumerates the ~15 EventSub subscription variants the Manager
// knows how to build, modeled as a single tagged-variant enum plus a
// descriptor table rather than one Go type per topic, since every variant
// differs only in type-string, condition fields, version, and cost.
type TopicKind int

const (
	TopicRaid TopicKind = iota
	TopicPollBegin
	TopicPollEnd
	TopicShieldBegin
	TopicShieldEnd
	TopicShoutoutCreate
	TopicChannelModerate
	TopicAutomodMessageHold
	TopicAutomodMessageUpdate
	TopicSuspiciousUserMessage
	TopicSuspiciousUserUpdate
	TopicWarningAcknowledge
	TopicChatUserMessageUpdate
	TopicChannelPointsRedemptionAdd
	TopicChannelPointsRedemptionUpdate
	// TopicUserMessageHeld is only ever built when
	// Config.EnableUserMessageHeldTopic is set: IRC already delivers
	// held-message notices, and internal/ircfallback picks them up when
	// Config.EnableIRCHeldMessageFallback is set.
	TopicUserMessageHeld
)

// requiredID names which resolved identifiers a topic's condition block
// needs before it can be built.
type requiredID int

const (
	requireBroadcaster requiredID = 1 << iota
	requireLocal
)

// topicDescriptor is the pure per-variant data driving the create-request
// builder: type string, version, cost, and which condition fields get
// filled in from which resolved ids.
type topicDescriptor struct {
	typeString string
	version    string
	cost       int
	required   requiredID
	// conditionFields maps a condition JSON field name to the id it takes:
	// "broadcaster" or "local".
	conditionFields map[string]string
}

var topicDescriptors = map[TopicKind]topicDescriptor{
	TopicRaid: {
		typeString:      "channel.raid",
		version:         "1",
		cost:            1,
		required:        requireBroadcaster,
		conditionFields: map[string]string{"from_broadcaster_user_id": "broadcaster"},
	},
	TopicPollBegin: {
		typeString:      "channel.poll.begin",
		version:         "1",
		required:        requireBroadcaster,
		conditionFields: map[string]string{"broadcaster_user_id": "broadcaster"},
	},
	TopicPollEnd: {
		typeString:      "channel.poll.end",
		version:         "1",
		required:        requireBroadcaster,
		conditionFields: map[string]string{"broadcaster_user_id": "broadcaster"},
	},
	TopicShieldBegin: {
		typeString: "channel.shield_mode.begin",
		version:    "1",
		required:   requireBroadcaster | requireLocal,
		conditionFields: map[string]string{
			"broadcaster_user_id": "broadcaster",
			"moderator_user_id":   "local",
		},
	},
	TopicShieldEnd: {
		typeString: "channel.shield_mode.end",
		version:    "1",
		required:   requireBroadcaster | requireLocal,
		conditionFields: map[string]string{
			"broadcaster_user_id": "broadcaster",
			"moderator_user_id":   "local",
		},
	},
	TopicShoutoutCreate: {
		typeString: "channel.shoutout.create",
		version:    "1",
		required:   requireBroadcaster | requireLocal,
		conditionFields: map[string]string{
			"broadcaster_user_id": "broadcaster",
			"moderator_user_id":   "local",
		},
	},
	TopicChannelModerate: {
		typeString: "channel.moderate",
		version:    "2",
		required:   requireBroadcaster | requireLocal,
		conditionFields: map[string]string{
			"broadcaster_user_id": "broadcaster",
			"moderator_user_id":   "local",
		},
	},
	TopicAutomodMessageHold: {
		typeString: "automod.message.hold",
		version:    "2",
		required:   requireBroadcaster | requireLocal,
		conditionFields: map[string]string{
			"broadcaster_user_id": "broadcaster",
			"moderator_user_id":   "local",
		},
	},
	TopicAutomodMessageUpdate: {
		typeString: "automod.message.update",
		version:    "2",
		required:   requireBroadcaster | requireLocal,
		conditionFields: map[string]string{
			"broadcaster_user_id": "broadcaster",
			"moderator_user_id":   "local",
		},
	},
	TopicSuspiciousUserMessage: {
		typeString: "channel.suspicious_user.message",
		version:    "1",
		required:   requireBroadcaster | requireLocal,
		conditionFields: map[string]string{
			"broadcaster_user_id": "broadcaster",
			"moderator_user_id":   "local",
		},
	},
	TopicSuspiciousUserUpdate: {
		typeString: "channel.suspicious_user.update",
		version:    "1",
		required:   requireBroadcaster | requireLocal,
		conditionFields: map[string]string{
			"broadcaster_user_id": "broadcaster",
			"moderator_user_id":   "local",
		},
	},
	TopicWarningAcknowledge: {
		typeString: "channel.warning.acknowledge",
		version:    "1",
		required:   requireBroadcaster | requireLocal,
		conditionFields: map[string]string{
			"broadcaster_user_id": "broadcaster",
			"moderator_user_id":   "local",
		},
	},
	TopicChatUserMessageUpdate: {
		typeString: "channel.chat.user_message_update",
		version:    "1",
		required:   requireBroadcaster | requireLocal,
		conditionFields: map[string]string{
			"broadcaster_user_id": "broadcaster",
			"user_id":             "local",
		},
	},
	TopicChannelPointsRedemptionAdd: {
		typeString:      "channel.channel_points_custom_reward_redemption.add",
		version:         "1",
		required:        requireBroadcaster,
		conditionFields: map[string]string{"broadcaster_user_id": "broadcaster"},
	},
	TopicChannelPointsRedemptionUpdate: {
		typeString:      "channel.channel_points_custom_reward_redemption.update",
		version:         "1",
		required:        requireBroadcaster,
		conditionFields: map[string]string{"broadcaster_user_id": "broadcaster"},
	},
	TopicUserMessageHeld: {
		typeString: "channel.chat.user_message_hold",
		version:    "1",
		required:   requireBroadcaster | requireLocal,
		conditionFields: map[string]string{
			"broadcaster_user_id": "broadcaster",
			"user_id":             "local",
		},
	},
}

// String returns the EventSub wire type string for kind, the same string
// used in the outbound create-subscription request body.
func (k TopicKind) String() string {
	if d, ok := topicDescriptors[k]; ok {
		return d.typeString
	}
	return "unknown"
}
