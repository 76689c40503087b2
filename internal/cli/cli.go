package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/specialistvlad/streamgrid/internal/app"
	"github.com/specialistvlad/streamgrid/internal/credential/socketio"
	"github.com/specialistvlad/streamgrid/internal/stream"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("streamgrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
streamgrid - keeps credentialed live streams playing inside a media graph.

Usage:
  streamgrid [options] [TOPOLOGY_PATH]

Arguments:
  TOPOLOGY_PATH
    Path to a single .hcl file or a directory containing .hcl files.

Options:
`)
		flagSet.PrintDefaults()
	}

	topologyFlag := flagSet.String("topology", "", "Path to the topology file or directory.")
	tFlag := flagSet.String("t", "", "Path to the topology file or directory (shorthand).")
	credURLFlag := flagSet.String("credentials-url", "http://localhost:3000", "URL of the socket.io credential service.")
	credNamespaceFlag := flagSet.String("credentials-namespace", "/", "socket.io namespace of the credential service.")
	credTimeoutFlag := flagSet.Duration("credentials-timeout", socketio.DefaultTimeout, "Timeout of a single credential request.")
	marginFlag := flagSet.Duration("safety-margin", stream.DefaultSafetyMargin, "How long before expiry a stream session is renewed.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check and metrics server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	path := ""
	switch {
	case *topologyFlag != "":
		path = *topologyFlag
	case *tFlag != "":
		path = *tFlag
	case flagSet.NArg() > 0:
		path = flagSet.Arg(0)
	}
	slog.Debug("Topology path determined.", "path", path)

	if path == "" {
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	config, err := app.NewConfig(app.Config{
		TopologyPath:         path,
		CredentialsURL:       *credURLFlag,
		CredentialsNamespace: *credNamespaceFlag,
		CredentialsTimeout:   *credTimeoutFlag,
		SafetyMargin:         *marginFlag,
		HealthcheckPort:      *healthPortFlag,
		LogFormat:            logFormat,
		LogLevel:             logLevel,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
