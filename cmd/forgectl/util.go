package main

import (
	"io"
	"log/slog"
)

// newSilentLogger returns a logger that discards everything, for
// short-lived one-shot commands (status, doctor) that build core
// components just to read from them and shouldn't spam stderr with the
// same startup logging `serve` produces.
func newSilentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
