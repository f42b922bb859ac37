package syncchan

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const DefaultConfigFile = "/simulator/simmgrName"

// Well-known manager ports.
const (
	LinuxSyncPort = 50200
	WVSSyncPort   = 40844
)

var (
	ErrConfigMalformed = errors.New("syncchan: malformed manager config line")
	ErrNoCandidates    = errors.New("syncchan: no candidates")
)

// Target is the manager named in the config file. An empty Host means the
// subnet is scanned; a zero Port means the well-known ports are tried.
type Target struct {
	Host string
	Port int
}

func (t Target) String() string {
	switch {
	case t.Host == "" && t.Port == 0:
		return "(scan)"
	case t.Port == 0:
		return t.Host
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// ParseConfigLine accepts "host", "host:port" or ":port".
func ParseConfigLine(line string) (Target, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Target{}, fmt.Errorf("%w: empty", ErrConfigMalformed)
	}
	if strings.ContainsAny(line, " \t") {
		return Target{}, fmt.Errorf("%w: %q contains whitespace", ErrConfigMalformed, line)
	}

	if !strings.Contains(line, ":") {
		return Target{Host: line}, nil
	}

	host, portStr, err := net.SplitHostPort(line)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q: %v", ErrConfigMalformed, line, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Target{}, fmt.Errorf("%w: %q: bad port", ErrConfigMalformed, line)
	}
	return Target{Host: host, Port: port}, nil
}

// LoadConfigFile returns the first parseable line of path. Malformed lines
// are logged and skipped. A missing or empty file yields the zero Target.
func LoadConfigFile(path string, log *zap.Logger) (Target, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Info("no manager config; scanning", zap.String("path", path))
		return Target{}, nil
	}
	if err != nil {
		return Target{}, fmt.Errorf("syncchan: open %s: %w", path, err)
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for n := 1; s.Scan(); n++ {
		if strings.TrimSpace(s.Text()) == "" {
			continue
		}
		t, err := ParseConfigLine(s.Text())
		if err != nil {
			log.Warn("skipping config line", zap.String("path", path), zap.Int("line", n), zap.Error(err))
			continue
		}
		return t, nil
	}
	if err = s.Err(); err != nil {
		return Target{}, fmt.Errorf("syncchan: read %s: %w", path, err)
	}
	return Target{}, nil
}
