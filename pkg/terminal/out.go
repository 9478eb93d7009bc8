package terminal

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// transcriptWriter is the output of the terminal. While a transcript is
// open everything written, and every echoed command line, is copied to it.
type transcriptWriter struct {
	w io.Writer

	transcript *bufio.Writer
	closer     io.Closer
	// quiet suppresses the output to w while transcribing.
	quiet bool
}

func (w *transcriptWriter) Write(p []byte) (int, error) {
	if w.transcript == nil {
		return w.w.Write(p)
	}
	if !w.quiet {
		if n, err := w.w.Write(p); err != nil {
			return n, err
		}
	}
	return w.transcript.Write(p)
}

// Echo copies str, a command line typed by the user, to the transcript.
func (w *transcriptWriter) Echo(str string) {
	if w.transcript != nil {
		w.transcript.WriteString(str)
	}
}

func (w *transcriptWriter) Flush() {
	if w.transcript != nil {
		w.transcript.Flush()
	}
}

// TranscribeTo closes the current transcript and starts copying the output
// to fh. If quiet is set the output only goes to fh.
func (w *transcriptWriter) TranscribeTo(fh io.WriteCloser, quiet bool) error {
	if err := w.CloseTranscript(); err != nil {
		return err
	}
	w.transcript, w.closer, w.quiet = bufio.NewWriter(fh), fh, quiet
	return nil
}

// CloseTranscript flushes and closes the transcript, if any.
func (w *transcriptWriter) CloseTranscript() error {
	if w.transcript == nil {
		return nil
	}
	ferr := w.transcript.Flush()
	cerr := w.closer.Close()
	w.transcript, w.closer, w.quiet = nil, nil, false
	if ferr != nil {
		return ferr
	}
	return cerr
}

// colorableStdout returns a writer for stdout that understands ANSI escape
// codes and reports whether colors should be avoided.
func colorableStdout() (w io.Writer, dumb bool) {
	if strings.ToLower(os.Getenv("TERM")) == "dumb" || !isatty.IsTerminal(os.Stdout.Fd()) {
		return os.Stdout, true
	}
	return colorable.NewColorableStdout(), false
}
