package traversal

import (
	"fmt"
	"strings"
)

// Mode is the presentation order chosen by the user.
type Mode int

const (
	ModeRandom Mode = iota
	ModeOldestFirst
	ModeNewestFirst
)

func (m Mode) String() string {
	switch m {
	case ModeRandom:
		return "random"
	case ModeOldestFirst:
		return "oldest"
	case ModeNewestFirst:
		return "newest"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "random", "":
		return ModeRandom, nil
	case "oldest", "oldest_first", "oldest-first":
		return ModeOldestFirst, nil
	case "newest", "newest_first", "newest-first":
		return ModeNewestFirst, nil
	default:
		return ModeRandom, fmt.Errorf("unknown traversal mode %q", s)
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
