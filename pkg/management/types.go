package management

import "time"

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the management plugin (e.g., "http://localhost:15672")
	ServerURL string

	// Username and Password for HTTP basic auth
	Username string
	Password string

	// Timeout for HTTP requests
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Username == "" && c.Password == "" {
		c.Username = "guest"
		c.Password = "guest"
	}
}

// Exchange is one entry of GET /api/exchanges
type Exchange struct {
	Name       string `json:"name"`
	VHost      string `json:"vhost"`
	Type       string `json:"type"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
	Internal   bool   `json:"internal"`
	User       string `json:"user_who_performed_action"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}
