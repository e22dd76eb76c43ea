package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/urfave/cli/v2"

	"livenote/audio"
	"livenote/beep"
	"livenote/config"
	"livenote/log"
	"livenote/metrics"
	"livenote/session"
	"livenote/shutdown"
)

var version = "dev"

func main() {
	if err := newApp(os.Stdin, os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stdin io.Reader, stdout io.Writer) *cli.App {
	app := &cli.App{
		Name:     "livenote",
		Usage:    "Live transcripts and summaries of microphone and desktop audio",
		Version:  version,
		Reader:   stdin,
		Writer:   stdout,
		Flags:    append(globalFlags(), runFlags()...),
		Before:   setupLogging,
		After:    func(*cli.Context) error { log.Close(); return nil },
		Action:   runAction,
		Commands: []*cli.Command{runCmd(), devicesCmd(), replayCmd()},
	}
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, EnvVars: []string{"LIVENOTE_CONFIG"}, Usage: "YAML config file (default: user config dir)"},
		&cli.StringFlag{Name: "env-file", Value: ".env", Usage: ".env file with API keys"},
		&cli.StringFlag{Name: "log-path", Usage: "log directory (default: OS-specific location, use ./ for current dir)"},
		&cli.StringFlag{Name: "interval", Aliases: []string{"i"}, Usage: "chunk interval, e.g. 5s or 5000 (ms)"},
		&cli.StringFlag{Name: "transcriber", Usage: "transcription provider: groq, openai, deepgram, fake"},
		&cli.StringFlag{Name: "summarizer", Usage: "summarization provider: openai, groq, fake"},
		&cli.StringFlag{Name: "model", Usage: "summarization model"},
		&cli.StringFlag{Name: "language", Aliases: []string{"lang"}, Usage: "transcription language code, empty = auto-detect"},
		&cli.StringFlag{Name: "metrics", Usage: "serve Prometheus metrics on this address, e.g. :9090"},
		&cli.BoolFlag{Name: "strict-summary", Usage: "drop summaries that finish after a newer one"},
		&cli.StringFlag{Name: "mic-device", Usage: "microphone device name"},
		&cli.StringFlag{Name: "desktop-device", Usage: "loopback device name for desktop audio"},
		&cli.BoolFlag{Name: "no-beep", Usage: "disable start/stop sounds"},
	}
}

// setupLogging resolves the log directory, routes crash output next to the
// diagnostics log and starts the diagnostics logger.
func setupLogging(c *cli.Context) error {
	dir, err := log.ResolveDir(c.String("log-path"))
	if err != nil {
		return fmt.Errorf("failed to resolve log directory: %w", err)
	}
	log.SetDir(dir)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
		return nil
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	if f, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		fmt.Fprintf(f, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(f, debug.CrashOptions{})
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	if c.Bool("no-beep") {
		beep.Disable()
	}
	return nil
}

// loadConfig layers command-line flags over config.Load.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"), c.String("env-file"))
	if err != nil {
		return nil, err
	}
	if v := c.String("interval"); v != "" {
		d, err := config.ParseInterval(v)
		if err != nil {
			return nil, fmt.Errorf("--interval: %w", err)
		}
		cfg.Interval = d
	}
	for flag, dst := range map[string]*string{
		"transcriber":    &cfg.Transcription.Provider,
		"language":       &cfg.Transcription.Language,
		"summarizer":     &cfg.Summarization.Provider,
		"model":          &cfg.Summarization.Model,
		"metrics":        &cfg.Metrics.Addr,
		"mic-device":     &cfg.Microphone.Device,
		"desktop-device": &cfg.Desktop.Device,
	} {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}
	if c.IsSet("strict-summary") {
		cfg.Summarization.StrictOrder = c.Bool("strict-summary")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func serveMetrics(ctx context.Context, m *metrics.Metrics, addr string) {
	if addr == "" {
		return
	}
	go func() {
		log.Info("metrics_listen: " + addr)
		if err := m.Serve(ctx, addr); err != nil {
			log.Errorf("metrics server: %v", err)
			fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
		}
	}()
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Record and summarize live (default command)",
		Flags:  runFlags(),
		Action: runAction,
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "headless", Usage: "no terminal UI; read commands from stdin and print to stdout"},
		&cli.BoolFlag{Name: "setup", Usage: "pick the microphone interactively"},
		&cli.StringSliceFlag{Name: "start", Usage: "sources to start right away: microphone, desktop"},
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	backend, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		return fmt.Errorf("initializing audio: %w", err)
	}
	defer backend.Close()

	if c.Bool("setup") && cfg.Microphone.Device == "" {
		dev, err := audio.SelectDevice(backend, audio.Microphone)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: device selection failed: %v, using default\n", err)
		} else if dev != nil {
			cfg.Microphone.Device = dev.Name
		}
	}

	ctx, cancel := shutdown.Context(c.Context)
	defer cancel()

	m := metrics.New()
	serveMetrics(ctx, m, cfg.Metrics.Addr)

	autostart, err := parseSources(c.StringSlice("start"))
	if err != nil {
		return err
	}

	if c.Bool("headless") {
		beep.Disable()
		out := c.App.Writer
		eng, err := newEngine(cfg, backend, m, printSinks(out))
		if err != nil {
			return err
		}
		eng.warm()
		return runHeadless(ctx, eng, autostart, c.App.Reader, out)
	}
	return runTUI(ctx, cfg, backend, m, autostart)
}

func parseSources(names []string) ([]audio.Source, error) {
	var out []audio.Source
	for _, n := range names {
		src, err := audio.ParseSource(n)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

func devicesCmd() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List microphones and loopback devices",
		Action: func(c *cli.Context) error {
			backend, err := audio.NewContext()
			if err != nil {
				return fmt.Errorf("initializing audio: %w", err)
			}
			defer backend.Close()
			return listDevices(c.App.Writer, backend)
		},
	}
}

func listDevices(w io.Writer, backend audio.Context) error {
	var errs []error
	for _, src := range sources {
		devices, err := audio.Candidates(backend, src)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src, err))
			continue
		}
		fmt.Fprintf(w, "%s:\n", src)
		if len(devices) == 0 {
			fmt.Fprintln(w, "  (none)")
		}
		for _, d := range devices {
			suffix := ""
			if audio.IsBluetooth(d.Name) {
				suffix = " (bluetooth, lower quality)"
			}
			fmt.Fprintf(w, "  %s%s\n", d.Name, suffix)
		}
	}
	return errors.Join(errs...)
}

func replayCmd() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Run a session over a 16 kHz mono WAV file and print the results",
		ArgsUsage: "<wav-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Value: "microphone", Usage: "source the file stands in for"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("usage: livenote replay <wav-file>")
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			src, err := audio.ParseSource(c.String("source"))
			if err != nil {
				return err
			}
			fake, err := audio.NewFakeContextFromWAV(c.Args().First(), true)
			if err != nil {
				return fmt.Errorf("loading WAV: %w", err)
			}
			beep.Disable()

			ctx, cancel := shutdown.Context(c.Context)
			defer cancel()
			m := metrics.New()
			serveMetrics(ctx, m, cfg.Metrics.Addr)

			eng, err := newEngine(cfg, fake, m, printSinks(c.App.Writer))
			if err != nil {
				return err
			}
			return replay(ctx, eng, fake, src)
		},
	}
}

// replay records src until the fake backend has played the whole file plus
// one more interval, then stops and waits for the last results.
func replay(ctx context.Context, eng *engine, fake *audio.FakeContext, src audio.Source) error {
	if _, err := eng.Start(ctx, src); err != nil {
		return err
	}
	captures := fake.Captures()
	if len(captures) == 0 {
		return fmt.Errorf("replay: no capture opened")
	}
	capture := captures[len(captures)-1]

	select {
	case <-capture.AudioDone():
	case <-ctx.Done():
	}
	select {
	case <-time.After(eng.cfg.Interval + eng.cfg.Interval/2):
	case <-ctx.Done():
	}

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eng.cfg.RequestTimeout)
	defer cancel()
	if err := eng.Shutdown(waitCtx); err != nil {
		return err
	}
	if s, ok := eng.Snapshot(src); ok && s.State == session.Stopped {
		log.Info(fmt.Sprintf("replay_done: chunks=%d failures=%d", s.Chunks, s.Failures))
	}
	return nil
}
