package ports

// NotifierPort surfaces user-facing messages to the host UI. Messages
// arriving here have already been stripped of internal detail.
type NotifierPort interface {
	Info(message string)
	Warn(message string)
	Error(message string)
}
