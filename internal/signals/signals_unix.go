package signals

import "syscall"

var (
	sigQuit  = syscall.SIGQUIT
	sigWinch = syscall.SIGWINCH
)
