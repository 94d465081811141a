package covertree

import "go.uber.org/zap"

// NewLogger returns a SugaredLogger for the CLI drivers: Info level by
// default, Debug when verbose is set (per spec §7's `-v` flag), writing to
// standard error so stdout stays free for any piped output.
func NewLogger(verbose bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.CallerKey = ""
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, &ResourceError{Op: "build logger", Err: err}
	}
	return logger.Sugar(), nil
}
