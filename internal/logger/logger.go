// Package logger builds the zerolog logger shared by every component.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const permission = 0664

type Build struct {
	writer  io.Writer
	path    string
	level   string
	console bool
}

type Data struct {
	LogFile *os.File
	Logger  zerolog.Logger
}

func New() *Build {
	return &Build{}
}

func (b *Build) FromPath(path string) *Build {
	b.path = path
	return b
}

func (b *Build) FromWriter(w io.Writer) *Build {
	b.writer = w
	return b
}

func (b *Build) Level(level string) *Build {
	b.level = level
	return b
}

// Console switches to human-readable output. Ignored when writing to a file.
func (b *Build) Console(on bool) *Build {
	b.console = on
	return b
}

func (b *Build) Make() (*Data, error) {
	data := &Data{}
	var w io.Writer = os.Stdout
	if b.writer != nil {
		w = b.writer
	}

	if b.path != "" {
		f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		data.LogFile = f
		w = zerolog.SyncWriter(f)
	} else if b.console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(b.level))
	if err != nil || b.level == "" {
		level = zerolog.InfoLevel
	}

	data.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
	return data, nil
}

func (d *Data) Close() error {
	if d.LogFile == nil {
		return nil
	}
	return d.LogFile.Close()
}
