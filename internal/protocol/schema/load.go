package schema

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	KindPrimitive = "primitive"
	KindStreaming = "streaming"
	KindNone      = "none"
)

type document struct {
	Methods []methodSpec `toml:"methods" yaml:"methods"`
}

type methodSpec struct {
	ID     uint64           `toml:"id" yaml:"id"`
	Name   string           `toml:"name" yaml:"name"`
	TxKind string           `toml:"tx_kind" yaml:"tx_kind"`
	RxKind string           `toml:"rx_kind" yaml:"rx_kind"`
	Tx     []transitionSpec `toml:"tx" yaml:"tx"`
	Rx     []transitionSpec `toml:"rx" yaml:"rx"`
}

type transitionSpec struct {
	Type      uint64           `toml:"type" yaml:"type"`
	Name      string           `toml:"name" yaml:"name"`
	Recursive bool             `toml:"recursive" yaml:"recursive"`
	Next      []transitionSpec `toml:"next" yaml:"next"`
}

// LoadFile reads an API description from a .toml, .yaml or .yml file.
func LoadFile(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Map{}, fmt.Errorf("schema load failed (%s): %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return ParseTOML(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return Map{}, fmt.Errorf("schema load failed (%s): unsupported extension", path)
	}
}

func ParseTOML(data []byte) (Map, error) {
	var doc document
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return Map{}, fmt.Errorf("schema parse failed: %w", err)
	}
	return doc.build()
}

func ParseYAML(data []byte) (Map, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Map{}, fmt.Errorf("schema parse failed: %w", err)
	}
	return doc.build()
}

func (d document) build() (Map, error) {
	methods := make([]Method, 0, len(d.Methods))
	for _, spec := range d.Methods {
		name := strings.TrimSpace(spec.Name)
		tx, err := buildProtocol(name, "tx", spec.TxKind, spec.Tx)
		if err != nil {
			return Map{}, err
		}
		rx, err := buildProtocol(name, "rx", spec.RxKind, spec.Rx)
		if err != nil {
			return Map{}, err
		}
		methods = append(methods, Method{ID: spec.ID, Name: name, Tx: tx, Rx: rx})
	}
	m, err := NewMap(methods...)
	if err != nil {
		return Map{}, err
	}
	log.Debug().Int("methods", m.Len()).Msg("schema loaded")
	return m, nil
}

func buildProtocol(method, side, kind string, specs []transitionSpec) (Protocol, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind != "" && len(specs) > 0 {
		return nil, ValidationError{Method: method, Reason: fmt.Sprintf("%s_kind and %s transitions are exclusive", side, side)}
	}
	switch kind {
	case KindPrimitive:
		return Primitive(), nil
	case KindStreaming:
		return Streaming(), nil
	case KindNone:
		return Protocol{}, nil
	case "":
		return buildTransitions(method, specs)
	default:
		return nil, ValidationError{Method: method, Reason: fmt.Sprintf("unknown %s_kind %q", side, kind)}
	}
}

func buildTransitions(method string, specs []transitionSpec) (Protocol, error) {
	out := make(Protocol, len(specs))
	names := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, ValidationError{Method: method, Reason: fmt.Sprintf("message type %d missing name", spec.Type)}
		}
		if _, ok := out[spec.Type]; ok {
			return nil, fmt.Errorf("%w: method=%q type=%d", ErrDuplicateMessageType, method, spec.Type)
		}
		if _, ok := names[name]; ok {
			return nil, fmt.Errorf("%w: method=%q name=%q", ErrDuplicateMessageType, method, name)
		}
		if spec.Recursive && len(spec.Next) > 0 {
			return nil, ValidationError{Method: method, Reason: fmt.Sprintf("message %q cannot be recursive and have next", name)}
		}
		next, err := buildTransitions(method, spec.Next)
		if err != nil {
			return nil, err
		}
		out[spec.Type] = Transition{Name: name, Recursive: spec.Recursive, Next: next}
		names[name] = struct{}{}
	}
	return out, nil
}
