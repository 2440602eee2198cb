package llm

import "context"

// Client is the interface model providers implement.
type Client interface {
	// Chat sends one request and returns the complete response.
	Chat(ctx context.Context, req *Request) (*Response, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
