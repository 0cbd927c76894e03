package exitmonitor

import "errors"

// errAlreadyExited is returned by backend.add when the OS reports the pid
// no longer exists at registration time (the "no such process" case the
// design calls out as immediate-delivery rather than an error).
var errAlreadyExited = errors.New("exitmonitor: pid already exited")
