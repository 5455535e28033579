package sysmonitor

import "os"

func currentPID() int {
	return os.Getpid()
}
