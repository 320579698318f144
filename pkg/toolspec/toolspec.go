// Package toolspec defines the read-only tool descriptor model and the
// descriptor catalog.
//
// Descriptors are produced by an external parser and arrive pre-parsed as
// JSON; they are immutable for the server's lifetime. The catalog is a
// build-once map shared across sessions; reload swaps the whole map behind a
// single pointer exchange.
package toolspec

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
)

// Requirement pins one package the tool's environment must provide.
type Requirement struct {
	Type    string `json:"type"`
	Version string `json:"version"`
	Value   string `json:"value"`
}

// StdioRegex classifies a diagnostic line pattern on stdout/stderr.
type StdioRegex struct {
	Match       string `json:"match"`
	Source      string `json:"source"`
	Level       string `json:"level"`
	Description string `json:"description"`
}

// Option is one selectable value of a select parameter.
type Option struct {
	Value    string `json:"value"`
	Label    string `json:"text,omitempty"`
	Selected bool   `json:"selected,omitempty"`
}

// Param is one declared input parameter.
type Param struct {
	Name       string   `json:"name,omitempty"`
	Argument   string   `json:"argument,omitempty"`
	Type       string   `json:"type,omitempty"`
	Format     string   `json:"format,omitempty"`
	Label      string   `json:"label,omitempty"`
	Help       string   `json:"help,omitempty"`
	Optional   bool     `json:"optional,omitempty"`
	Value      string   `json:"value,omitempty"`
	TrueValue  string   `json:"truevalue,omitempty"`
	FalseValue string   `json:"falsevalue,omitempty"`
	Checked    bool     `json:"checked,omitempty"`
	Multiple   bool     `json:"multiple,omitempty"`
	Min        *float64 `json:"min,omitempty"`
	Max        *float64 `json:"max,omitempty"`
	Options    []Option `json:"options,omitempty"`
}

// EffectiveName returns the parameter's name, deriving it from the argument
// when only `--argument` was declared.
func (p *Param) EffectiveName() string {
	if p.Name != "" {
		return p.Name
	}
	return strings.TrimLeft(p.Argument, "-")
}

// When is one branch of a conditional parameter group.
type When struct {
	Value  string  `json:"value"`
	Params []Param `json:"params"`
}

// Conditional nests parameter groups behind a pivot parameter.
type Conditional struct {
	Name  string `json:"name"`
	Param Param  `json:"param"`
	Whens []When `json:"whens"`
}

// Inputs declares a tool's flat parameters and its conditional tree.
type Inputs struct {
	Params       []Param       `json:"params"`
	Conditionals []Conditional `json:"conditionals,omitempty"`
}

// OutputFilter is a declared filter expression on a data output.
type OutputFilter struct {
	Expression string `json:"regex"`
}

// ChangeFormatWhen rewrites an output's format when an input matches.
type ChangeFormatWhen struct {
	Input  string `json:"input"`
	Value  string `json:"value"`
	Format string `json:"format"`
}

// DiscoverDatasets describes pattern-based output discovery.
type DiscoverDatasets struct {
	Pattern   string `json:"pattern"`
	Directory string `json:"directory,omitempty"`
	Ext       string `json:"ext,omitempty"`
	Visible   bool   `json:"visible,omitempty"`
	Recurse   bool   `json:"recurse,omitempty"`
}

// DataOutput is one declared named output file.
type DataOutput struct {
	Name             string             `json:"name"`
	Format           string             `json:"format,omitempty"`
	Label            string             `json:"label,omitempty"`
	FromWorkDir      string             `json:"from_work_dir,omitempty"`
	Filters          []OutputFilter     `json:"filters,omitempty"`
	ChangeFormat     []ChangeFormatWhen `json:"change_format,omitempty"`
	DiscoverDatasets *DiscoverDatasets  `json:"discover_datasets,omitempty"`
}

// CollectionOutput is a declared output collection discovered by pattern.
type CollectionOutput struct {
	Name             string            `json:"name"`
	Type             string            `json:"type"`
	Label            string            `json:"label,omitempty"`
	DiscoverDatasets *DiscoverDatasets `json:"discover_datasets,omitempty"`
}

// Outputs declares a tool's data and collection outputs.
type Outputs struct {
	Data       []DataOutput       `json:"data,omitempty"`
	Collection []CollectionOutput `json:"collection,omitempty"`
}

// ConfigFile is an auxiliary template rendered to disk and exposed to the
// command through an environment variable named after it.
type ConfigFile struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// AssertContents lists required and forbidden substrings of an output.
type AssertContents struct {
	HasText    []string `json:"has_text,omitempty"`
	NotHasText []string `json:"not_has_text,omitempty"`
}

// TestOutput is one expected output of an embedded test case.
type TestOutput struct {
	Name           string          `json:"name,omitempty"`
	File           string          `json:"file,omitempty"`
	Ftype          string          `json:"ftype,omitempty"`
	Value          string          `json:"value,omitempty"`
	AssertContents *AssertContents `json:"assert_contents,omitempty"`
}

// Test is one embedded test case of a descriptor.
type Test struct {
	ExpectNumOutputs int             `json:"expect_num_outputs"`
	Params           []Param         `json:"params,omitempty"`
	Conditional      *Conditional    `json:"conditional,omitempty"`
	Outputs          []TestOutput    `json:"outputs,omitempty"`
	AssertCommand    *AssertContents `json:"assert_command,omitempty"`
}

// Tool is one immutable tool descriptor.
type Tool struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Version        string        `json:"version,omitempty"`
	Description    string        `json:"description,omitempty"`
	Requirements   []Requirement `json:"requirements,omitempty"`
	Stdio          []StdioRegex  `json:"stdio,omitempty"`
	VersionCommand string        `json:"version_command,omitempty"`
	Interpreter    string        `json:"interpreter,omitempty"`
	Command        string        `json:"command"`
	Inputs         Inputs        `json:"inputs"`
	Outputs        Outputs       `json:"outputs"`
	ConfigFiles    []ConfigFile  `json:"configfiles,omitempty"`
	Tests          []Test        `json:"tests,omitempty"`
	Help           string        `json:"help,omitempty"`
	Documentation  string        `json:"documentation,omitempty"`
	Citations      []string      `json:"citations,omitempty"`
}

// PackageRequirements filters the requirement list down to conda packages.
// Requirement types other than "package" have no environment mapping.
func (t *Tool) PackageRequirements() []Requirement {
	var reqs []Requirement
	for _, r := range t.Requirements {
		if r.Type == "package" {
			reqs = append(reqs, r)
		}
	}
	return reqs
}

// catalogState is the immutable snapshot behind a Catalog.
type catalogState struct {
	byID   map[string]*Tool
	byName map[string]string // tool name -> id
}

// Catalog is a read-only descriptor lookup shared across sessions.
// Reload replaces the whole map atomically; readers never lock.
type Catalog struct {
	state atomic.Pointer[catalogState]
}

// NewCatalog builds a catalog from descriptors.
func NewCatalog(tools []Tool) *Catalog {
	c := &Catalog{}
	c.swap(tools)
	return c
}

// LoadCatalog reads a JSON descriptor catalog from path. The file holds
// either a list of tools or a map of id to tool.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("toolspec: read catalog: %w", err)
	}
	tools, err := decodeCatalog(data)
	if err != nil {
		return nil, err
	}
	return NewCatalog(tools), nil
}

// Reload atomically replaces the catalog contents.
func (c *Catalog) Reload(tools []Tool) {
	c.swap(tools)
}

func (c *Catalog) swap(tools []Tool) {
	state := &catalogState{
		byID:   make(map[string]*Tool, len(tools)),
		byName: make(map[string]string, len(tools)),
	}
	for i := range tools {
		t := &tools[i]
		state.byID[t.ID] = t
		if t.Name != "" {
			state.byName[t.Name] = t.ID
		}
	}
	c.state.Store(state)
}

// Get returns the descriptor for id.
func (c *Catalog) Get(id string) (*Tool, bool) {
	t, ok := c.state.Load().byID[id]
	return t, ok
}

// ResolveName maps a tool name to its id.
func (c *Catalog) ResolveName(name string) (string, bool) {
	id, ok := c.state.Load().byName[name]
	return id, ok
}

// All returns every descriptor in the catalog.
func (c *Catalog) All() []*Tool {
	state := c.state.Load()
	tools := make([]*Tool, 0, len(state.byID))
	for _, t := range state.byID {
		tools = append(tools, t)
	}
	return tools
}

// Len reports the number of descriptors.
func (c *Catalog) Len() int {
	return len(c.state.Load().byID)
}

func decodeCatalog(data []byte) ([]Tool, error) {
	var list []Tool
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var byID map[string]Tool
	if err := json.Unmarshal(data, &byID); err != nil {
		return nil, fmt.Errorf("toolspec: decode catalog: %w", err)
	}
	list = make([]Tool, 0, len(byID))
	for id, t := range byID {
		if t.ID == "" {
			t.ID = id
		}
		list = append(list, t)
	}
	return list, nil
}
