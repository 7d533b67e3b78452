package msgsync

// Notifier is the fire-and-forget toast surface. Failures reported here are
// never fatal to the session.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) Success(string) {}
func (NopNotifier) Error(string)   {}
