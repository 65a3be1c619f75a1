package gotrue

var KeyfuncOptions = keyfuncOptions

const MaxResponseBytes = maxResponseBytes
