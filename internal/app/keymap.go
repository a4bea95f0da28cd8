package app

// Key binding constants used in handleKey. Letters are input, so quitting
// needs ctrl+c or esc while the interview is running.
const (
	KeyQuit      = "q"
	KeyQuitUpper = "Q"
	KeyCtrlC     = "ctrl+c"
	KeyEsc       = "esc"
	KeyEnter     = "enter"
	KeyBackspace = "backspace"
	KeyCtrlU     = "ctrl+u"
	KeyUp        = "up"
	KeyDown      = "down"
	KeyPgUp      = "pgup"
	KeyPgDown    = "pgdown"
	KeyEnd       = "end"
)
