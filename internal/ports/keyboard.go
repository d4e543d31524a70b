package ports

// KeyBinderPort is the host shell's raw key hook. One Bind per combo;
// the returned cancel detaches it.
type KeyBinderPort interface {
	Bind(combo string, fn func(event KeyEvent)) (cancel func(), err error)
}

// KeyEvent is one key activation delivered by the host. The funcs are
// host callbacks applied when a handler claims the event; a nil func
// means the host has no such notion.
type KeyEvent struct {
	Combo           string
	PreventDefault  func()
	StopPropagation func()
}

type KeyHandler func(event KeyEvent) KeyDecision

// KeyDecision tells the dispatcher whether a handler consumed the event.
// A declined event falls through to the next handler in priority order.
type KeyDecision uint8

const (
	KeyClaimed KeyDecision = iota
	KeyDeclined
)
