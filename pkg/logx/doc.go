// Package logx is postwatch's logging: a small Logger value over zerolog
// plus a Service that owns the outputs (console, JSON file, Telegram chat)
// and can swap them at runtime when the config is reloaded.
package logx
