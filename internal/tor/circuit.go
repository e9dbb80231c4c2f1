package tor

import (
	"fmt"
	"strings"
)

// Relay identifies one hop of a circuit.
type Relay struct {
	// Fingerprint is the hex RSA identity digest, without the leading '$'.
	Fingerprint string
	Nickname    string
}

// String formats the relay the way tor's control protocol does:
// $FINGERPRINT~nickname, or $FINGERPRINT when the nickname is unknown.
func (r Relay) String() string {
	if r.Fingerprint == "" {
		return r.Nickname
	}
	if r.Nickname == "" {
		return "$" + r.Fingerprint
	}
	return "$" + r.Fingerprint + "~" + r.Nickname
}

// Circuit is one entry of tor's circuit-status.
type Circuit struct {
	ID         string
	Status     string
	Path       []Relay
	Purpose    string
	BuildFlags []string
}

// Circuit statuses reported by tor.
const (
	StatusLaunched = "LAUNCHED"
	StatusBuilt    = "BUILT"
	StatusExtended = "EXTENDED"
	StatusFailed   = "FAILED"
	StatusClosed   = "CLOSED"
)

// LastHop returns the final relay of the path.
func (c *Circuit) LastHop() (Relay, error) {
	if len(c.Path) == 0 {
		return Relay{}, fmt.Errorf("circuit %s: %w", c.ID, ErrEmptyPath)
	}
	return c.Path[len(c.Path)-1], nil
}

func (c *Circuit) hasFlag(flag string) bool {
	for _, f := range c.BuildFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// usableExit reports whether c can carry exit streams.
func (c *Circuit) usableExit() bool {
	return c.Status == StatusBuilt &&
		c.Purpose == "GENERAL" &&
		!c.hasFlag("IS_INTERNAL") &&
		!c.hasFlag("ONEHOP_TUNNEL") &&
		len(c.Path) > 0
}

// parseCircuitStatus parses the value of GETINFO circuit-status. Each line
// looks like:
//
//	7 BUILT $AAAA~alpha,$BBBB~beta BUILD_FLAGS=NEED_CAPACITY PURPOSE=GENERAL TIME_CREATED=...
func parseCircuitStatus(s string) ([]Circuit, error) {
	var circs []Circuit
	for _, line := range strings.FieldsFunc(s, func(r rune) bool { return r == '\r' || r == '\n' }) {
		line = strings.TrimSpace(line)
		if line == "" || line == "." {
			continue
		}
		c, err := parseCircuitLine(line)
		if err != nil {
			return nil, err
		}
		circs = append(circs, c)
	}
	return circs, nil
}

func parseCircuitLine(line string) (Circuit, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Circuit{}, fmt.Errorf("malformed circuit line %q", line)
	}

	c := Circuit{ID: fields[0], Status: fields[1]}
	rest := fields[2:]
	if len(rest) > 0 && !strings.Contains(rest[0], "=") {
		path, err := parsePath(rest[0])
		if err != nil {
			return Circuit{}, fmt.Errorf("circuit %s: %w", c.ID, err)
		}
		c.Path = path
		rest = rest[1:]
	}

	for _, kv := range rest {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case "PURPOSE":
			c.Purpose = v
		case "BUILD_FLAGS":
			c.BuildFlags = strings.Split(v, ",")
		}
	}
	return c, nil
}

func parsePath(s string) ([]Relay, error) {
	var path []Relay
	for _, hop := range strings.Split(s, ",") {
		r, err := parseRelay(hop)
		if err != nil {
			return nil, err
		}
		path = append(path, r)
	}
	return path, nil
}

// parseRelay accepts $FP~nick, $FP=nick, $FP and a bare nickname, which old
// tor versions emit.
func parseRelay(s string) (Relay, error) {
	if s == "" {
		return Relay{}, fmt.Errorf("empty relay in path")
	}
	if !strings.HasPrefix(s, "$") {
		return Relay{Nickname: s}, nil
	}
	s = s[1:]
	fp, nick, _ := strings.Cut(s, "~")
	if fp == s {
		fp, nick, _ = strings.Cut(s, "=")
	}
	if fp == "" {
		return Relay{}, fmt.Errorf("relay %q has no fingerprint", s)
	}
	return Relay{Fingerprint: strings.ToUpper(fp), Nickname: nick}, nil
}
