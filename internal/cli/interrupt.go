package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InterruptHandler turns the first interrupt into a cooperative halt and the
// second into a hard cancel.
type InterruptHandler struct {
	writer     io.Writer
	onHalt     func()
	interrupts int
	mu         sync.Mutex
}

// NewInterruptHandler creates a new interrupt handler. onHalt runs on the
// first interrupt and may be nil.
func NewInterruptHandler(writer io.Writer, onHalt func()) *InterruptHandler {
	if writer == nil {
		writer = os.Stdout
	}
	return &InterruptHandler{
		writer: writer,
		onHalt: onHalt,
	}
}

// HandleInterrupts watches SIGINT and SIGTERM and returns a context that is
// canceled on the second signal.
func (h *InterruptHandler) HandleInterrupts(ctx context.Context) context.Context {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer signal.Stop(sigChan)
		h.watch(ctx, sigChan, cancel)
	}()
	return ctx
}

func (h *InterruptHandler) watch(ctx context.Context, signals <-chan os.Signal, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			if h.interrupt() {
				cancel()
				return
			}
		}
	}
}

// interrupt records one signal and reports whether the context should be canceled.
func (h *InterruptHandler) interrupt() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.interrupts++
	if h.interrupts > 1 {
		h.write("\n" + FormatWarning("Interrupted again, aborting the current message.") + "\n")
		return true
	}

	h.write("\n" + FormatWarning("Stopping after the current message...") + "\n" +
		FormatInfo("Press Ctrl+C again to abort immediately.") + "\n")
	if h.onHalt == nil {
		return true
	}
	h.onHalt()
	return false
}

func (h *InterruptHandler) write(msg string) {
	if _, err := fmt.Fprint(h.writer, msg); err != nil {
		// Best effort - we're shutting down anyway
		fmt.Fprintf(os.Stderr, "Failed to write interrupt message: %v\n", err)
	}
}

// WasInterrupted returns true if at least one interrupt arrived.
func (h *InterruptHandler) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupts > 0
}
