package document

import "fmt"

// Source identifies which store produced a document in a merged listing.
type Source int

const (
	// SourceFallback is the best-effort key-value area.
	SourceFallback Source = iota
	// SourceLocal is the embedded durable store.
	SourceLocal
	// SourceRemote is the network document table.
	SourceRemote
)

// String returns the wire name of the source.
func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceRemote:
		return "remote"
	case SourceFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Precedence ranks sources for deduplication. Higher wins.
func (s Source) Precedence() int {
	switch s {
	case SourceRemote:
		return 3
	case SourceLocal:
		return 2
	case SourceFallback:
		return 1
	default:
		return 0
	}
}

// Outranks reports whether s should replace other in a merged listing.
func (s Source) Outranks(other Source) bool {
	return s.Precedence() > other.Precedence()
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseSource parses a source wire name.
func ParseSource(name string) (Source, error) {
	switch name {
	case "local":
		return SourceLocal, nil
	case "remote":
		return SourceRemote, nil
	case "fallback":
		return SourceFallback, nil
	default:
		return 0, fmt.Errorf("unknown source %q", name)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Source) UnmarshalText(text []byte) error {
	parsed, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
