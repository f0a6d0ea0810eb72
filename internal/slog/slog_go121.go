//go:build go1.21

// Package slog re-exports the structured logging API so the rest of the
// module does not care which toolchain built it.
package slog

import (
	"log/slog"
)

type (
	Logger         = slog.Logger
	Handler        = slog.Handler
	HandlerOptions = slog.HandlerOptions
	TextHandler    = slog.TextHandler
	Level          = slog.Level
	LevelVar       = slog.LevelVar
	Attr           = slog.Attr
)

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var (
	New            = slog.New
	NewTextHandler = slog.NewTextHandler
	SetDefault     = slog.SetDefault
	Default        = slog.Default
	Debug          = slog.Debug
	Info           = slog.Info
	String         = slog.String
	Int            = slog.Int
	Uint64         = slog.Uint64
	Float64        = slog.Float64
	Bool           = slog.Bool
	Any            = slog.Any
)
