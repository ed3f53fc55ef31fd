package internal

import (
	"io"
	"os"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	// logOutput receives the JSON log. The MCP command points it at stderr
	// because stdout carries the protocol.
	logOutput io.Writer
	// out receives command results (reindex stats, decoded names).
	out io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogOutput sends the structured log to w.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}

// WithOutput sends command results to w.
func WithOutput(w io.Writer) Option {
	return func(a *application) {
		a.out = w
	}
}

func newApplication(opts []Option) *application {
	app := &application{logOutput: os.Stdout, out: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	return app
}
