package logical

import "fmt"

// SinkKind selects where a Sink writes its input.
type SinkKind int

const (
	// SinkMemory collects the input into a frame returned by the engine.
	SinkMemory SinkKind = iota
	// SinkFile writes the input to a file.
	SinkFile
)

func (k SinkKind) String() string {
	switch k {
	case SinkMemory:
		return "memory"
	case SinkFile:
		return "file"
	default:
		return fmt.Sprintf("SinkKind(%d)", int(k))
	}
}

// Sink terminates a plan. Plans whose root is not a sink are collected into
// memory.
type Sink struct {
	Input NodeKey
	Kind  SinkKind

	// Path and Format are used by file sinks. Files are compressed according
	// to the extension of Path.
	Path   string
	Format FileFormat
}

var _ Node = (*Sink)(nil)

func (s *Sink) Inputs() []NodeKey { return []NodeKey{s.Input} }

func (s *Sink) String() string {
	if s.Kind == SinkFile {
		return fmt.Sprintf("SINK %s [kind=%s, path=%s, format=%s]", s.Input, s.Kind, s.Path, s.Format)
	}
	return fmt.Sprintf("SINK %s [kind=%s]", s.Input, s.Kind)
}

func (s *Sink) isNode() {}

// SinkMultiple runs several sinks as one query. Subplans shared between the
// sinks are executed once.
type SinkMultiple struct {
	Sinks []NodeKey
}

var _ Node = (*SinkMultiple)(nil)

func (s *SinkMultiple) Inputs() []NodeKey { return s.Sinks }

func (s *SinkMultiple) String() string {
	return fmt.Sprintf("SINK_MULTIPLE [sinks=(%s)]", joinKeys(s.Sinks))
}

func (s *SinkMultiple) isNode() {}
