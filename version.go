package ferry

// VERSION is stamped by release builds via
// -ldflags "-X github.com/tgmirror/ferry.VERSION=v1.2.3".
var VERSION = "n/a"
