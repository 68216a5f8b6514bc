package session

// Notice level constants.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notice is a user-facing notification (rendered as a toast by the UI).
type Notice struct {
	Level  string
	Title  string
	Detail string
}

// Notifier receives user-facing notices. Fatal turn errors and non-fatal OCR
// degradations both surface here.
type Notifier interface {
	Notify(notice Notice)
}

// NopNotifier discards all notices.
type NopNotifier struct{}

func (NopNotifier) Notify(Notice) {}
