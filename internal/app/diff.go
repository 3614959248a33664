package app

import "postwatch/internal/config"

// changedSections lists the top-level config sections that differ.
func changedSections(prev, next *config.Config) []string {
	if prev == nil || next == nil {
		return nil
	}
	var out []string
	if prev.Telegram != next.Telegram {
		out = append(out, "telegram")
	}
	if prev.Source != next.Source {
		out = append(out, "source")
	}
	if prev.State != next.State {
		out = append(out, "state")
	}
	if prev.Loop != next.Loop {
		out = append(out, "loop")
	}
	if prev.Logging != next.Logging {
		out = append(out, "logging")
	}
	if prev.Metrics != next.Metrics {
		out = append(out, "metrics")
	}
	return out
}

// restartSections lists changes that the running process cannot apply.
// Telegram settings other than the token and API URL are applied live.
func restartSections(prev, next *config.Config) []string {
	if prev == nil || next == nil {
		return nil
	}
	var out []string
	if prev.Telegram.Token != next.Telegram.Token || prev.Telegram.APIURL != next.Telegram.APIURL {
		out = append(out, "telegram.token")
	}
	for _, s := range changedSections(prev, next) {
		switch s {
		case "source", "state", "loop", "metrics":
			out = append(out, s)
		}
	}
	return out
}
