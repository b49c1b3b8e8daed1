package redis

import "strings"

const defaultNamespace = "rp"

// Keys builds namespaced keys. Environments sharing one Redis use different
// namespaces.
type Keys struct {
	namespace string
}

func NewKeys(namespace string) Keys {
	return Keys{namespace: strings.Trim(strings.TrimSpace(namespace), ":")}
}

// IdempotencyKey scopes a replay record, such as a request or a webhook delivery.
func (k Keys) IdempotencyKey(scope, id string) string {
	return k.build("idempotency", scope, id)
}

// RateLimitKey holds a fixed-window counter.
func (k Keys) RateLimitKey(scope string) string {
	return k.build("rate_limit", scope)
}

func (k Keys) CounterKey(name string) string {
	return k.build("counter", name)
}

// GlobalConfigKey caches the platform tunables.
func (k Keys) GlobalConfigKey() string {
	return k.build("config", "global")
}

// TrackingKey holds the latest courier position for a tracking token.
func (k Keys) TrackingKey(token string) string {
	return k.build("tracking", token)
}

func (k Keys) LockKey(name string) string {
	return k.build("lock", name)
}

func (k Keys) build(parts ...string) string {
	ns := k.namespace
	if ns == "" {
		ns = defaultNamespace
	}
	out := []string{ns}
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ":")
}
