package mux

import "syscall"

var sigWinch = syscall.SIGWINCH
