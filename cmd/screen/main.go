// Command screen submits one image to the prediction backend and prints
// the screening result.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/health-screen/internal/config"
	"github.com/example/health-screen/internal/logging"
	"github.com/example/health-screen/internal/prediction"
	"github.com/example/health-screen/internal/predictclient"
	"github.com/example/health-screen/internal/session"
)

const disclaimer = "This tool is for informational purposes only and should not be considered medical advice. " +
	"Please consult a qualified healthcare professional for diagnosis and treatment."

const (
	exitOK         = 0
	exitFailure    = 1
	exitValidation = 2
	exitConnection = 3
	exitServer     = 4
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("screen", flag.ContinueOnError)
	flags.SetOutput(stderr)
	category := flags.String("category", string(prediction.DefaultCategory), "body part: tongue, nail, ankle or foot")
	apiURL := flags.String("api-url", "", "prediction backend base url (overrides PREDICT_API_URL)")
	timeout := flags.Duration("timeout", 0, "upload timeout, 0 waits forever (overrides PREDICT_TIMEOUT)")
	configFile := flags.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "usage: screen [-category tongue] [-api-url URL] [-timeout 0] <image>")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return exitValidation
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return exitValidation
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "api-url":
			cfg.Predict.BaseURL = *apiURL
		case "timeout":
			cfg.Predict.Timeout = *timeout
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	defer logger.Sync() //nolint:errcheck

	client, err := predictclient.New(predictclient.Config{
		BaseURL: cfg.Predict.BaseURL,
		Timeout: cfg.Predict.Timeout,
	}, logger)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}

	form := session.NewForm(client)
	c, err := prediction.ParseCategory(*category)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitValidation
	}
	if err := form.SetCategory(c); err != nil {
		fmt.Fprintln(stderr, err)
		return exitValidation
	}

	img, err := readImage(flags.Arg(0))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	if err := form.SelectImage(img); err != nil {
		fmt.Fprintln(stderr, err)
		return exitValidation
	}

	started := time.Now()
	result, err := form.Submit(ctx)
	if err != nil {
		logger.Debug("screening failed", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
		fmt.Fprintln(stderr, err)
		return exitCode(err)
	}

	fmt.Fprintf(stdout, "Category:    %s\n", c)
	fmt.Fprintf(stdout, "Condition:   %s\n", result.Condition)
	fmt.Fprintf(stdout, "Confidence:  %d%%\n", result.ConfidencePercent())
	if result.Explanation != "" {
		fmt.Fprintf(stdout, "Explanation: %s\n", result.Explanation)
	}
	fmt.Fprintf(stdout, "\n%s\n", disclaimer)
	return exitOK
}

// readImage loads path and declares its media type from the extension.
// Unknown extensions are left empty so the client sniffs the bytes.
func readImage(path string) (*prediction.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image failed: %w", err)
	}
	return &prediction.Image{
		Filename:    filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Data:        data,
	}, nil
}

func exitCode(err error) int {
	var (
		validationErr *predictclient.ValidationError
		connErr       *predictclient.ConnectionError
		serverErr     *predictclient.ServerError
	)
	switch {
	case errors.As(err, &validationErr):
		return exitValidation
	case errors.As(err, &connErr):
		return exitConnection
	case errors.As(err, &serverErr):
		return exitServer
	}
	return exitFailure
}
