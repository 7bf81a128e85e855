package fault

import "log/slog"

// PopupTitles are the distraction dialog titles.
var PopupTitles = []string{
	"License Warning",
	"System Alert",
	"Connection Lost",
	"Update Available",
	"Storage Full",
	"Memory Warning",
}

// PopupMessages are the distraction dialog bodies. Title and message are
// drawn independently.
var PopupMessages = []string{
	"Your license may be invalid. Please check your credentials.",
	"A system error has occurred. Check logs for details.",
	"Connection to server has been lost. Retrying...",
	"A new update is available. Would you like to install?",
	"Your disk space is running low. Free up space now.",
	"Memory usage is high. Close some applications.",
}

// Popup is a distraction dialog.
type Popup struct {
	Title   string
	Message string
}

// Crash is a fake crash dialog.
type Crash struct {
	Title   string
	Message string
	Info    string
	Buttons []string
}

// DefaultCrash mimics the desktop "stopped working" dialog.
var DefaultCrash = Crash{
	Title:   "Review PC has stopped working",
	Message: "Review PC has encountered a problem and needs to close.",
	Info:    "We are sorry for the inconvenience.",
	Buttons: []string{"Close the program", "Debug"},
}

// Presenter displays fault dialogs. Calls are fire-and-forget; nothing they
// do feeds back into the session.
type Presenter interface {
	ShowPopup(Popup)
	ShowCrash(Crash)
}

// LogPresenter writes dialogs to the process log.
type LogPresenter struct{}

func (LogPresenter) ShowPopup(p Popup) {
	slog.Warn("popup", "title", p.Title, "message", p.Message)
}

func (LogPresenter) ShowCrash(c Crash) {
	slog.Error("crash dialog", "title", c.Title, "message", c.Message)
}

// PresenterFunc adapts a pair of funcs to Presenter. Nil funcs are skipped.
type PresenterFunc struct {
	Popup func(Popup)
	Crash func(Crash)
}

func (f PresenterFunc) ShowPopup(p Popup) {
	if f.Popup != nil {
		f.Popup(p)
	}
}

func (f PresenterFunc) ShowCrash(c Crash) {
	if f.Crash != nil {
		f.Crash(c)
	}
}
