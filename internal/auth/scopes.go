package auth

// Known OAuth scopes used by the challenge engine.
const (
	ScopeActivitiesWrite     = "activities:write"
	ScopeActivitiesRead      = "activities:read"
	ScopeChallengesWrite     = "challenges:write"
	ScopeChallengesRead      = "challenges:read"
	ScopeCertificationsWrite = "certifications:write"
)
