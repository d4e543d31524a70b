package ports

// SettingsPort stores small named JSON documents, scoped either
// globally or to one workflow by the constructing adapter.
type SettingsPort interface {
	Get(name string, out any) (exists bool, err error)
	Set(name string, value any) error
	Delete(name string) error
	Names() ([]string, error)
}
