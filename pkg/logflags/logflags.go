package logflags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Layers lists the values accepted by --log-output.
var Layers = []string{"value", "evalop", "core", "dap", "terminal"}

const defaultLayer = "value"

var (
	mu      sync.RWMutex
	enabled = map[string]bool{}
	logOut  io.WriteCloser
)

// Enabled reports whether debug logging was requested for layer.
func Enabled(layer string) bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled[layer]
}

// Value reports whether token resolution and assignment are logged.
func Value() bool { return Enabled("value") }

// ValueLogger returns the logger of the expression engine.
func ValueLogger() Logger { return newLogger("value") }

// Evalop reports whether compiled expression programs are logged.
func Evalop() bool { return Enabled("evalop") }

func EvalopLogger() Logger { return newLogger("evalop") }

func CoreLogger() Logger { return newLogger("core") }

// DAPLogger returns the logger of the DAP server, debug messages include
// every request and response.
func DAPLogger() Logger { return newLogger("dap") }

func TerminalLogger() Logger { return newLogger("terminal") }

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup enables the comma separated layers in logstr. logDest is either a
// file descriptor number or a path, the logs go to stderr when it is empty.
func Setup(logFlag bool, logstr, logDest string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if err := openDest(logDest); err != nil {
		return err
	}
	if logstr == "" {
		logstr = defaultLayer
	}

	mu.Lock()
	defer mu.Unlock()
	for _, layer := range strings.Split(logstr, ",") {
		if !knownLayer(layer) {
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'dbgval help log' for usage.\n", layer)
			continue
		}
		enabled[layer] = true
	}
	return nil
}

func knownLayer(layer string) bool {
	for _, l := range Layers {
		if l == layer {
			return true
		}
	}
	return false
}

func openDest(dest string) error {
	if dest == "" {
		return nil
	}
	if fd, err := strconv.Atoi(dest); err == nil {
		logOut = os.NewFile(uintptr(fd), "dbgval-logs")
		return nil
	}
	fh, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("could not create log file: %v", err)
	}
	logOut = fh
	return nil
}

// Close closes the log destination opened by Setup and disables every
// layer.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
	enabled = map[string]bool{}
}

// textFormatter writes one line per entry: time, level, the fields sorted
// by key and the message. Unlike logrus.TextFormatter it never emits color
// codes.
type textFormatter struct{}

var formatter = textFormatter{}

func (textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = new(bytes.Buffer)
	}
	fmt.Fprintf(b, "%s %s ", entry.Time.Format("2006-01-02T15:04:05Z07:00"), entry.Level)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		s, ok := entry.Data[k].(string)
		if !ok {
			s = fmt.Sprint(entry.Data[k])
		}
		if plainValue(s) {
			fmt.Fprintf(b, "%s=%s", k, s)
		} else {
			fmt.Fprintf(b, "%s=%q", k, s)
		}
	}
	if len(keys) > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func plainValue(s string) bool {
	return strings.IndexFunc(s, func(ch rune) bool {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			return false
		}
		return !strings.ContainsRune("-._/@^+", ch)
	}) < 0
}
