package common

import "strings"

// --------------------------------------------------------------------------
// Request Classification
// --------------------------------------------------------------------------

// Priority is an ordering hint for dispatch, lower values are served first.
type Priority uint8

const (
	PriorityAuth Priority = iota
	PriorityMessage
	PriorityMedia
	PriorityOther
)

// String returns the name of the priority class
func (p Priority) String() string {
	switch p {
	case PriorityAuth:
		return "auth"
	case PriorityMessage:
		return "message"
	case PriorityMedia:
		return "media"
	default:
		return "other"
	}
}

// ClassifyPriority assigns the method to a priority class by inspecting its name.
func ClassifyPriority(method string) Priority {
	m := strings.ToLower(method)
	switch {
	case containsAny(m, "auth", "login"):
		return PriorityAuth
	case containsAny(m, "message", "send"):
		return PriorityMessage
	case containsAny(m, "media", "photo", "document"):
		return PriorityMedia
	default:
		return PriorityOther
	}
}

// IsBatchable reports whether a request of the given method may share a wire
// exchange with other requests. Authentication and file transfers need a
// dedicated exchange.
func IsBatchable(method string) bool {
	return !containsAny(strings.ToLower(method), "auth", "login", "upload", "download")
}

// DefaultCacheableMethods are the read-only methods whose results may be cached
var DefaultCacheableMethods = []string{
	"users.getMe",
	"users.getUsers",
	"messages.getChats",
	"messages.getHistory",
	"messages.getDialogs",
	"contacts.getContacts",
}

// IsCacheable reports whether method is contained in the allow-list (case-insensitive)
func IsCacheable(method string, allow []string) bool {
	for _, a := range allow {
		if strings.EqualFold(a, method) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
