package syncchan

import (
	"fmt"
	"net"
	"strconv"
)

// Candidate is one address to try.
type Candidate struct {
	Addr   string // host:port
	Source string
}

// Source yields the candidates for a discovery pass. pass counts from 0
// and lets sources alternate ports between passes.
type Source interface {
	Name() string
	Candidates(pass int) ([]Candidate, error)
}

func portFor(ports []int, pass int) int {
	if len(ports) == 0 {
		return LinuxSyncPort
	}
	return ports[pass%len(ports)]
}

// Static is the host named in the config file.
type Static struct {
	Host  string
	Port  int
	Ports []int // used when Port is zero
}

func (s *Static) Name() string { return "static" }

func (s *Static) Candidates(pass int) ([]Candidate, error) {
	port := s.Port
	if port == 0 {
		port = portFor(s.Ports, pass)
	}
	return []Candidate{{Addr: net.JoinHostPort(s.Host, strconv.Itoa(port)), Source: s.Name()}}, nil
}

// PeerStore remembers the last manager this unit connected to.
type PeerStore interface {
	Remember(addr string) error
	Last() (string, error)
}

// Remembered offers the last connected address first, ahead of a scan.
type Remembered struct {
	Store PeerStore
}

func (r *Remembered) Name() string { return "remembered" }

func (r *Remembered) Candidates(pass int) ([]Candidate, error) {
	addr, err := r.Store.Last()
	if err != nil || addr == "" {
		return nil, err
	}
	return []Candidate{{Addr: addr, Source: r.Name()}}, nil
}

// Scan walks .1 to .254 of the interface's IPv4 /24, skipping its own host.
type Scan struct {
	Interface string
	Ports     []int

	// Addrs lists the interface addresses; nil uses net.InterfaceByName.
	Addrs func(name string) ([]net.Addr, error)
}

func (s *Scan) Name() string { return "scan" }

func interfaceAddrs(name string) ([]net.Addr, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	if ifi.Flags&net.FlagUp == 0 {
		return nil, fmt.Errorf("interface %s is down", name)
	}
	return ifi.Addrs()
}

// LocalIPv4 returns the first IPv4 address of the interface.
func (s *Scan) LocalIPv4() (net.IP, error) {
	addrsFn := s.Addrs
	if addrsFn == nil {
		addrsFn = interfaceAddrs
	}
	addrs, err := addrsFn(s.Interface)
	if err != nil {
		return nil, fmt.Errorf("syncchan: local address of %s: %w", s.Interface, err)
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("syncchan: no IPv4 address on %s: %w", s.Interface, ErrNoCandidates)
}

func (s *Scan) Candidates(pass int) ([]Candidate, error) {
	me, err := s.LocalIPv4()
	if err != nil {
		return nil, err
	}

	port := strconv.Itoa(portFor(s.Ports, pass))
	cands := make([]Candidate, 0, 253)
	for i := 1; i < 255; i++ {
		if byte(i) == me[3] {
			continue
		}
		host := net.IPv4(me[0], me[1], me[2], byte(i)).String()
		cands = append(cands, Candidate{Addr: net.JoinHostPort(host, port), Source: s.Name()})
	}
	return cands, nil
}

// SourcesFor builds the discovery order for a config target: the static
// host alone when one is configured, otherwise the remembered peer then the
// subnet scan. A port-only target pins the scan to that port.
func SourcesFor(t Target, ports []int, iface string, peers PeerStore) []Source {
	if t.Host != "" {
		return []Source{&Static{Host: t.Host, Port: t.Port, Ports: ports}}
	}

	if t.Port != 0 {
		ports = []int{t.Port}
	}
	var sources []Source
	if peers != nil {
		sources = append(sources, &Remembered{Store: peers})
	}
	return append(sources, &Scan{Interface: iface, Ports: ports})
}
