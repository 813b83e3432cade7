package chat

import "time"

// Session captures one widget conversation about a single capture.
type Session struct {
	ID       string `json:"id"`
	TopicID  string `json:"topicId"`
	ImageURI string `json:"-"`
	// Data is the structured data serialised for the model, e.g. indented fee JSON.
	Data      string    `json:"data,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasImage reports whether the session carries a capture.
func (s Session) HasImage() bool {
	return s.ImageURI != ""
}
