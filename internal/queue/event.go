// Package queue moves account email requests over RabbitMQ.  The API side
// publishes EmailEvent messages and a background consumer renders and sends
// them.
package queue

import "time"

// DefaultQueue is the durable queue carrying email requests.
const DefaultQueue = "notifications.email"

// EmailEvent asks for one templated email.  It carries everything the
// consumer needs so no database lookup happens on the sending side.
type EmailEvent struct {
	Template    string    `json:"template"`
	To          string    `json:"to"`
	Name        string    `json:"name"`
	URL         string    `json:"url,omitempty"`
	ExpiresIn   string    `json:"expires_in,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}
