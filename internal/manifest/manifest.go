// Package manifest loads YAML plan files describing a tree of shell commands
// and builds them into suite plans.
//
//	name: api
//	env:
//	  BASE_URL: http://localhost:8080
//	before_all:
//	  - ./scripts/start.sh
//	children:
//	  - name: health
//	    run: curl -fsS "$BASE_URL/healthz"
//	  - name: users
//	    concurrent: true
//	    children:
//	      - name: list
//	        run: ./scripts/users.sh list
//
// An item with children is a suite, an item with run is a spec.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned for a manifest that does not describe a valid tree.
var ErrInvalid = errors.New("manifest: invalid")

// Manifest is the root suite of a plan file.
type Manifest struct {
	Name      string            `yaml:"name"`
	Env       map[string]string `yaml:"env"`
	Timeout   string            `yaml:"timeout"`
	BeforeAll []string          `yaml:"before_all"`
	AfterAll  []string          `yaml:"after_all"`
	Children  []Item            `yaml:"children"`

	// Dir is the working directory of every command. Load sets it to the
	// directory of the file.
	Dir string `yaml:"-"`
}

// Item is a suite or a spec.
type Item struct {
	Name       string   `yaml:"name"`
	ID         string   `yaml:"id"`
	Concurrent bool     `yaml:"concurrent"`
	Skip       bool     `yaml:"skip"`
	Focus      bool     `yaml:"focus"`
	Timeout    string   `yaml:"timeout"`
	Run        string   `yaml:"run"`
	BeforeAll  []string `yaml:"before_all"`
	AfterAll   []string `yaml:"after_all"`
	Children   []Item   `yaml:"children"`
}

// IsSuite reports whether the item declares children.
func (it *Item) IsSuite() bool { return it.Children != nil }

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if m.Name == "" {
		m.Name = filepath.Base(path)
	}
	m.Dir = filepath.Dir(path)
	return m, nil
}

// Parse decodes and validates a manifest. Unknown keys are rejected.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: empty document", ErrInvalid)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the shape of the tree and every timeout.
func (m *Manifest) Validate() error {
	if _, err := parseTimeout(m.Timeout); err != nil {
		return fmt.Errorf("%w: root timeout: %v", ErrInvalid, err)
	}
	for i := range m.Children {
		if err := m.Children[i].validate(fmt.Sprintf("children[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

func (it *Item) validate(path string) error {
	if it.Name != "" {
		path = fmt.Sprintf("%s (%s)", path, it.Name)
	}
	if _, err := parseTimeout(it.Timeout); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	switch {
	case it.IsSuite() && it.Run != "":
		return fmt.Errorf("%w: %s: an item cannot have both run and children", ErrInvalid, path)
	case it.IsSuite():
		for i := range it.Children {
			if err := it.Children[i].validate(fmt.Sprintf("%s.children[%d]", path, i)); err != nil {
				return err
			}
		}
	case it.Run == "":
		return fmt.Errorf("%w: %s: an item needs run or children", ErrInvalid, path)
	case len(it.BeforeAll) > 0 || len(it.AfterAll) > 0:
		return fmt.Errorf("%w: %s: hooks are only allowed on suites", ErrInvalid, path)
	}
	return nil
}

func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative timeout %q", s)
	}
	return d, nil
}
