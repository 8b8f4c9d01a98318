package led

import "log/slog"

// noop is used on boards without a known indicator LED.
type noop struct {
	logger *slog.Logger
}

func newNoop(logger *slog.Logger) *noop {
	return &noop{logger: logger}
}

func (n *noop) Set(p Pattern) error {
	n.logger.Debug("No indicator LED", "pattern", string(p))
	return nil
}

func (n *noop) Name() string { return "" }
