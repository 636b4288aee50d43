package tui

// Key binding constants used in handleKey.
const (
	KeyQuit       = "q"
	KeyCtrlC      = "ctrl+c"
	KeyRecord     = " "
	KeySubmit     = "s"
	KeyTitle      = "t"
	KeyPark       = "p"
	KeyCancel     = "x"
	KeyRetry      = "y"
	KeyTab        = "tab"
	KeyUp         = "up"
	KeyDown       = "down"
	KeyJ          = "j"
	KeyK          = "k"
	KeyDelete     = "d"
	KeyRefresh    = "r"
	KeyEnter      = "enter"
	KeyEsc        = "esc"
	KeyBackspace  = "backspace"
	KeyCtrlU      = "ctrl+u"
	KeyQuitUpper  = "Q"
	KeyRefreshAlt = "R"
)
