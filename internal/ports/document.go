package ports

// DocumentPort is a live shared document in the style of a CRDT doc:
// named root containers, nested shared values, and observers that fire
// after every committed transaction, local and remote alike.
type DocumentPort interface {
	GetMap(name string) SharedMap
	GetArray(name string) SharedArray

	// NewMap and NewText build detached values to insert into a
	// container within the same transaction.
	NewMap() SharedMap
	NewText(initial string) SharedText

	// Transact batches mutations into one change; observers fire once
	// after the function returns. Mutations are not rolled back when the
	// function errors.
	Transact(fn func() error) error

	Close() error
}

// SharedMap observers fire on any change beneath the map, nested
// containers included.
type SharedMap interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
	Keys() []string
	Len() int
	ToJSON() map[string]any
	Observe(fn func()) (cancel func())
}

type SharedArray interface {
	Len() int
	Get(index int) (any, bool)
	Push(values ...any)
	Insert(index int, values ...any)
	Delete(index int, count int)
	ToJSON() []any
	Observe(fn func()) (cancel func())
}

// SharedText indexes by rune, not byte.
type SharedText interface {
	Len() int
	String() string
	Insert(index int, text string)
	Delete(index int, count int)
	Observe(fn func()) (cancel func())
}
