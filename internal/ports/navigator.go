package ports

import "net/url"

// NavigatorPort abstracts the host shell's address bar. SetQuery
// replaces the whole query string atomically; Observe reports external
// navigation such as back and forward.
type NavigatorPort interface {
	Query() url.Values
	SetQuery(values url.Values)
	Observe(fn func(values url.Values)) (cancel func())
}
