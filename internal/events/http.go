package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when the run endpoint receives a request.
// Context carries the run ID assigned to the request.
type HTTPStart struct {
	Request *http.Request
	Route   string
}

// HTTPFinish is emitted after the handler has written its response.
type HTTPFinish struct {
	Request  *http.Request
	Route    string
	Status   int
	Duration time.Duration
}
