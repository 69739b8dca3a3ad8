package logx

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
)

// MaxTailLines caps how many lines TailFile returns.
const MaxTailLines = 200

// ErrNoLogFile is returned by TailFile when the file does not exist.
var ErrNoLogFile = errors.New("log file not found")

// TailFile returns the last n non-blank lines of the file at path, oldest first.
func TailFile(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > MaxTailLines {
		n = MaxTailLines
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoLogFile
		}
		return nil, err
	}
	defer f.Close()
	return tailLines(f, n)
}

// tailLines keeps a ring of the last n lines while scanning r once.
func tailLines(r io.Reader, n int) ([]string, error) {
	ring := make([]string, n)
	count := 0

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		ring[count%n] = line
		count++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if count <= n {
		return append([]string(nil), ring[:count]...), nil
	}
	out := make([]string, 0, n)
	start := count % n
	out = append(out, ring[start:]...)
	out = append(out, ring[:start]...)
	return out, nil
}
