package ratelimit

// Window is one sliding-log constraint: at most Max requests within the
// last Seconds seconds.
type Window struct {
	Max     int
	Seconds int
}

// Endpoint tags used for rule lookup and limiter keys.
const (
	EndpointWrite    = "memory:write"
	EndpointSearch   = "memory:search"
	EndpointGet      = "memory:get"
	EndpointRegister = "agents:register"
)

// defaultWindows applies to any endpoint without a dedicated rule.
var defaultWindows = []Window{{Max: 10, Seconds: 60}}

// registerWindows throttles unauthenticated registration per client IP.
var registerWindows = []Window{{Max: 5, Seconds: 3600}}

// RuleFor returns the windows enforced for an endpoint at a trust level.
// Writes carry both a per-minute and a per-day window; reads only a
// per-minute one. Higher trust widens every window.
func RuleFor(endpoint string, trustLevel int) []Window {
	switch endpoint {
	case EndpointWrite:
		switch {
		case trustLevel <= 0:
			return []Window{{Max: 1, Seconds: 60}, {Max: 2, Seconds: 86400}}
		case trustLevel == 1:
			return []Window{{Max: 5, Seconds: 60}, {Max: 50, Seconds: 86400}}
		default:
			return []Window{{Max: 10, Seconds: 60}, {Max: 200, Seconds: 86400}}
		}
	case EndpointSearch:
		if trustLevel <= 0 {
			return []Window{{Max: 30, Seconds: 60}}
		}
		return []Window{{Max: 120, Seconds: 60}}
	case EndpointGet:
		if trustLevel <= 0 {
			return []Window{{Max: 60, Seconds: 60}}
		}
		return []Window{{Max: 300, Seconds: 60}}
	default:
		return defaultWindows
	}
}
