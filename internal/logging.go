package internal

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// VerboseFlag enables development logging in the commands.
var VerboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Value: false,
	Usage: "enable verbose logging",
}

// ConfigLogger is a cli.BeforeFunc that builds the command's logger. Use
// Logger to retrieve it in the command's action.
func ConfigLogger(ctx *cli.Context) error {
	var config zap.Config
	if ctx.Bool("verbose") {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}
	// Redirect everything to stderr
	config.OutputPaths = []string{"stderr"}
	logger, err := config.Build()
	if err != nil {
		return err
	}
	_, err = zap.RedirectStdLogAt(logger.With(zap.String("subsystem", "unknown")), zapcore.InfoLevel)
	if err != nil {
		return fmt.Errorf("redirecting stdlog output: %w", err)
	}
	ctx.App.Metadata["logger"] = logger
	return nil
}

// Logger returns the logger built by ConfigLogger.
func Logger(ctx *cli.Context) *zap.Logger {
	return ctx.App.Metadata["logger"].(*zap.Logger)
}
