package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"livenote/audio"
	"livenote/log"
	"livenote/session"
)

// printSink writes summaries and transcripts of one source to out. Sinks
// built by one printSinks call share a lock so lines never interleave.
type printSink struct {
	mu  *sync.Mutex
	out io.Writer
	src audio.Source
}

func printSinks(out io.Writer) func(audio.Source) session.Sink {
	mu := &sync.Mutex{}
	return func(src audio.Source) session.Sink {
		return &printSink{mu: mu, out: out, src: src}
	}
}

func (p *printSink) SetTranscript(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "[%s] transcript: %s\n", p.src, text)
}

func (p *printSink) SetContent(summary string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "[%s] summary:\n%s\n", p.src, summary)
}

// runHeadless starts the autostart sources, then executes one command per
// input line:
//
//	mic | desktop        toggle a source
//	start <src>          start a new session
//	stop [<src>]         stop one source, or all
//	status               print every session's state
//	wait <src>           block until the session's calls have completed
//	sleep <ms>
//	quit
//
// End of input or ctx cancellation stops every session and waits for the
// in-flight calls before returning.
func runHeadless(ctx context.Context, eng *engine, autostart []audio.Source, in io.Reader, out io.Writer) error {
	for _, src := range autostart {
		if _, err := eng.Start(ctx, src); err != nil {
			return fmt.Errorf("starting %s: %w", src, err)
		}
	}

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-readCtx.Done():
				return
			}
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			quit, err := headlessCommand(ctx, eng, line, out)
			if err != nil {
				log.Warnf("headless: %v", err)
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				break loop
			}
		}
	}

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eng.cfg.RequestTimeout)
	defer cancel()
	return eng.Shutdown(waitCtx)
}

func headlessCommand(ctx context.Context, eng *engine, line string, out io.Writer) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch cmd := strings.ToLower(fields[0]); cmd {
	case "quit", "exit":
		return true, nil
	case "mic", "microphone", "desktop":
		src, _ := audio.ParseSource(cmd)
		return false, eng.Toggle(ctx, src)
	case "start":
		src, err := audio.ParseSource(arg)
		if err != nil {
			return false, err
		}
		_, err = eng.Start(ctx, src)
		return false, err
	case "stop":
		if arg == "" {
			for _, src := range sources {
				eng.Stop(src)
			}
			return false, nil
		}
		src, err := audio.ParseSource(arg)
		if err != nil {
			return false, err
		}
		eng.Stop(src)
	case "status":
		for _, src := range sources {
			s, _ := eng.Snapshot(src)
			fmt.Fprintf(out, "%s: %s chunks=%d in_flight=%d failures=%d skipped=%d\n",
				src, s.State, s.Chunks, s.InFlight, s.Failures, s.Skipped)
		}
	case "wait":
		src, err := audio.ParseSource(arg)
		if err != nil {
			return false, err
		}
		return false, eng.Wait(ctx, src)
	case "sleep":
		ms, err := strconv.Atoi(arg)
		if err != nil {
			return false, fmt.Errorf("sleep: %w", err)
		}
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
		}
	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}
	return false, nil
}
