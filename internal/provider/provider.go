package provider

import (
	"context"
	"errors"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("provider: api key is required")

// Request describes one normalized generation call. StyleSettings is the
// resolved settings blob passed through to the provider verbatim; the
// pipeline never interprets it here.
type Request struct {
	Prompt        string
	Model         string
	Variations    int
	Composite     []byte
	CompositeMIME string
	StyleSettings []byte
	RequestID     string
}

// Image is one generated output.
type Image struct {
	Data []byte
	MIME string
}

// Generator is the contract implemented by all photo providers.
type Generator interface {
	Generate(ctx context.Context, req Request) ([]Image, error)
}
