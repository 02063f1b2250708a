package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the on-disk form of a protocol file. JSON input is accepted
// through the same path since YAML is a superset.
type Document struct {
	Name  string    `yaml:"name" json:"name"`
	Steps []RawStep `yaml:"steps" json:"steps"`
}

// DecodeBytes parses a protocol document. Unknown top-level or step fields
// are rejected so typos surface before validation.
func DecodeBytes(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &Document{}, nil
		}
		return nil, fmt.Errorf("parse protocol: %w", err)
	}
	return &doc, nil
}

// DecodeFile reads and parses a protocol file.
func DecodeFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read protocol file: %w", err)
	}
	return DecodeBytes(data)
}

// Load decodes and validates a protocol document in one call.
func Load(path string) (*Protocol, error) {
	doc, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return Validate(doc.Name, doc.Steps)
}
