package rate

import "time"

// Window represents a provider rate-limit bucket. Netatmo enforces
// per-user quotas over ten seconds and over an hour.
type Window int

const (
	TenSeconds Window = iota
	Hour
)

func (w Window) String() string {
	switch w {
	case TenSeconds:
		return "10s"
	case Hour:
		return "hour"
	default:
		return "unknown"
	}
}

// Headers describes provider rate-limit headers. Netatmo sends none,
// so only Retry-After is read by default.
type Headers struct {
	RetryAfter string
	ResetAfter string
}

// Declaration defines a provider's rate limits and response caching.
type Declaration struct {
	provider    string
	limits      map[Window]int
	budgetFloor map[Window]int
	cacheTTL    time.Duration
	headers     Headers
}

// Provider creates a new declaration for a provider.
func Provider(name string) Declaration {
	return Declaration{provider: name}
}

// Netatmo declares the documented per-user quotas for the Energy API,
// with a short response cache to absorb webhook-driven read bursts.
func Netatmo() Declaration {
	return Provider("netatmo").
		MaxRequestsPer(TenSeconds, 50).
		MaxRequestsPer(Hour, 500).
		BudgetFloor(Hour, 20).
		CacheFor(5 * time.Second).
		ReadHeaders(Headers{RetryAfter: "Retry-After"})
}

func (d Declaration) ProviderName() string {
	return d.provider
}

func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	if d.limits == nil {
		d.limits = make(map[Window]int)
	}
	d.limits[window] = limit
	return d
}

func (d Declaration) BudgetFloor(window Window, floor int) Declaration {
	if d.budgetFloor == nil {
		d.budgetFloor = make(map[Window]int)
	}
	d.budgetFloor[window] = floor
	return d
}

func (d Declaration) CacheFor(ttl time.Duration) Declaration {
	d.cacheTTL = ttl
	return d
}

func (d Declaration) ReadHeaders(headers Headers) Declaration {
	d.headers = headers
	return d
}

func (d Declaration) Limits() map[Window]int {
	return d.limits
}

func (d Declaration) BudgetFloors() map[Window]int {
	return d.budgetFloor
}

func (d Declaration) CacheTTL() time.Duration {
	return d.cacheTTL
}

func (d Declaration) Headers() Headers {
	return d.headers
}

func (d Declaration) HasLimits() bool {
	return len(d.limits) > 0
}
