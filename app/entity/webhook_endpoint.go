package entity

import (
	"sort"
	"time"
)

type WebhookEndpoint struct {
	ID uint64

	StoreCode      string
	PublishableKey string

	ConfigVersion int32
	URL           string
	EnabledEvents []string

	Active    bool
	LastEvent *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// WebhookExpectation is the endpoint configuration the setup collaborator
// currently registers with Stripe.
type WebhookExpectation struct {
	ConfigVersion int32
	URLs          []string
	EnabledEvents []string
}

// IsStale reports an active endpoint that has not heard from Stripe within window.
func (w *WebhookEndpoint) IsStale(now time.Time, window time.Duration) bool {
	if w == nil || !w.Active {
		return false
	}
	if w.LastEvent == nil {
		return true
	}
	return w.LastEvent.Before(now.Add(-window))
}

func (w *WebhookEndpoint) IsOutdated(expected WebhookExpectation) bool {
	if w.ConfigVersion != expected.ConfigVersion {
		return true
	}
	if len(expected.URLs) > 0 && !containsString(expected.URLs, w.URL) {
		return true
	}
	return !sameStringSet(w.EnabledEvents, expected.EnabledEvents)
}

func containsString(items []string, needle string) bool {
	for _, item := range items {
		if item == needle {
			return true
		}
	}
	return false
}

func sameStringSet(a, b []string) bool {
	left := uniqueSorted(a)
	right := uniqueSorted(b)
	if len(left) != len(right) {
		return false
	}
	for i := range left {
		if left[i] != right[i] {
			return false
		}
	}
	return true
}

func uniqueSorted(items []string) []string {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for item := range set {
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}
