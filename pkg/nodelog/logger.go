// Package nodelog configures the process-wide structured logger, adapted
// from the teacher's HealthLogger in core/system_health_logging.go: a
// logrus.Logger with a JSON formatter and an optional file sink, built once
// at startup and shared by value across every package that logs.
package nodelog

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"storacore/pkg/config"
)

// New builds a *logrus.Logger configured from cfg.Logging: level parsed
// from cfg.Logging.Level (falling back to Info on a bad value), JSON
// formatting, and output to cfg.Logging.File when set or stderr otherwise.
func New(cfg config.Logging) (*logrus.Logger, error) {
	lg := logrus.New()
	lg.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	lg.SetLevel(level)

	if cfg.File == "" {
		lg.SetOutput(os.Stderr)
		return lg, nil
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("nodelog: open log file %s: %w", cfg.File, err)
	}
	lg.SetOutput(f)
	return lg, nil
}

// SetGlobal points logrus's package-level standard logger at cfg, so
// packages that log via the bare logrus.Infof/Warnf/Debugf helpers (as most
// of this module's internal packages do) pick up the same level and
// formatting without threading a *logrus.Logger through every constructor.
func SetGlobal(cfg config.Logging) error {
	lg, err := New(cfg)
	if err != nil {
		return err
	}
	logrus.SetFormatter(lg.Formatter)
	logrus.SetLevel(lg.Level)
	logrus.SetOutput(lg.Out)
	return nil
}
