package stream

import "errors"

var errClientGone = errors.New("client disconnected")
