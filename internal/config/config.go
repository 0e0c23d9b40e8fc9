// Package config defines the run configuration: which entity type to load,
// where rows come from, how to reach the remote service and how to match
// existing records.
//
// A run file is JSON or YAML, chosen by file extension:
//
//	{
//	  "job": "candidates-nightly",
//	  "command": "load",
//	  "entity": "Candidate",
//	  "source":  { "kind": "file", "file": { "path": "data/Candidate.csv" } },
//	  "parser":  { "kind": "csv", "options": { "encoding": "windows-1252" } },
//	  "remote":  { "rest_url": "https://rest.example.com/rest-services/abc/", "token": "..." },
//	  "sync":    { "exist_fields": { "Candidate": ["externalID"] }, "list_delimiter": ";" },
//	  "runtime": { "workers": 10 },
//	  "journal": { "kind": "sqlite", "dsn": "journal.db", "resume": true }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultWorkers          = 10
	DefaultPageSize         = 500
	DefaultMaxRecords       = 20000
	DefaultAssociationChunk = 500
	DefaultListDelimiter    = ";"
	DefaultDateFormat       = "01/02/2006"
	DefaultTimeout          = "30s"
)

// Env overrides for the numeric runtime knobs. An explicit config value wins.
const (
	EnvWorkers   = "DATALOADER_WORKERS"
	EnvPageSize  = "DATALOADER_PAGE_SIZE"
	EnvChunkSize = "DATALOADER_CHUNK_SIZE"
)

// Run is one run file.
type Run struct {
	// Job labels metrics, logs and journal rows.
	Job string `json:"job" yaml:"job"`
	// Command is "load" (insert or update) or "delete".
	Command string `json:"command" yaml:"command"`
	// Entity is the entity type every row is loaded as.
	Entity string `json:"entity" yaml:"entity"`

	Source  Source        `json:"source" yaml:"source"`
	Parser  Parser        `json:"parser" yaml:"parser"`
	Remote  Remote        `json:"remote" yaml:"remote"`
	Sync    Sync          `json:"sync" yaml:"sync"`
	Runtime RuntimeConfig `json:"runtime" yaml:"runtime"`
	Journal Journal       `json:"journal" yaml:"journal"`
	Results Results       `json:"results" yaml:"results"`
}

// Source identifies where rows come from. Current kind: "file".
type Source struct {
	Kind string     `json:"kind" yaml:"kind"`
	File SourceFile `json:"file" yaml:"file"`
}

// SourceFile holds configuration for the "file" source kind.
type SourceFile struct {
	Path string `json:"path" yaml:"path"`
}

// Parser selects how the source is split into rows. Current kind: "csv".
//
// CSV options: comma (string), trim_space (bool), lazy_quotes (bool),
// encoding (string: utf-8, windows-1252, iso-8859-1, utf-16),
// header_map (object: source column → entity field).
type Parser struct {
	Kind    string  `json:"kind" yaml:"kind"`
	Options Options `json:"options" yaml:"options"`
}

// Remote configures the REST transport.
type Remote struct {
	RestURL            string `json:"rest_url" yaml:"rest_url"`
	Token              string `json:"token" yaml:"token"`
	Timeout            string `json:"timeout" yaml:"timeout"`
	MaxRetries         int    `json:"max_retries" yaml:"max_retries"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	// CompleteCall posts a run summary to the remote service when the run ends.
	CompleteCall bool `json:"complete_call" yaml:"complete_call"`
}

// TimeoutDuration parses Timeout, falling back to DefaultTimeout when empty.
func (r Remote) TimeoutDuration() (time.Duration, error) {
	s := strings.TrimSpace(r.Timeout)
	if s == "" {
		s = DefaultTimeout
	}
	return time.ParseDuration(s)
}

// Sync holds the matching and association knobs.
type Sync struct {
	// ExistFields maps an entity type to the fields that identify an existing
	// record. Rows without configured exist fields are always inserted.
	ExistFields map[string][]string `json:"exist_fields" yaml:"exist_fields"`
	// ListDelimiter splits to-many cells.
	ListDelimiter string `json:"list_delimiter" yaml:"list_delimiter"`
	// PageSize is the number of records requested per search call.
	PageSize int `json:"page_size" yaml:"page_size"`
	// MaxRecords caps how many records one search returns in total.
	MaxRecords int `json:"max_records" yaml:"max_records"`
	// AssociationChunk caps the ids sent in one associate/disassociate call.
	AssociationChunk int `json:"association_chunk" yaml:"association_chunk"`
	// ProcessEmptyAssociations makes an empty to-many cell clear the relation.
	ProcessEmptyAssociations bool `json:"process_empty_associations" yaml:"process_empty_associations"`
	// WildcardMatching sends lookup values unquoted.
	WildcardMatching bool `json:"wildcard_matching" yaml:"wildcard_matching"`
	// DateFormat is the Go time layout of date cells.
	DateFormat string `json:"date_format" yaml:"date_format"`
}

// RuntimeConfig controls concurrency.
type RuntimeConfig struct {
	Workers int `json:"workers" yaml:"workers"`
}

// Journal configures the per-row result journal. An empty Kind disables it.
type Journal struct {
	Kind   string `json:"kind" yaml:"kind"`
	DSN    string `json:"dsn" yaml:"dsn"`
	Resume bool   `json:"resume" yaml:"resume"`
}

// Results configures the success/failure CSV files. An empty Dir disables them.
type Results struct {
	Dir    string `json:"dir" yaml:"dir"`
	Prefix string `json:"prefix" yaml:"prefix"`
}

// Load reads a run file. Files ending in .yaml or .yml are decoded as YAML,
// everything else as JSON. Defaults are not applied.
func Load(path string) (Run, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Run{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, filepath.Ext(path))
}

// Parse decodes a run from b. ext selects the format (".yaml", ".yml" or
// anything else for JSON).
func Parse(b []byte, ext string) (Run, error) {
	var r Run
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &r); err != nil {
			return Run{}, fmt.Errorf("decode yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &r); err != nil {
			return Run{}, fmt.Errorf("decode json config: %w", err)
		}
	}
	if r.Parser.Options == nil {
		r.Parser.Options = Options{}
	}
	return r, nil
}

// ApplyDefaults fills unset fields. The numeric runtime knobs take an explicit
// value first, then the environment, then the default.
func (r *Run) ApplyDefaults() {
	if r.Command == "" {
		r.Command = "load"
	}
	if r.Source.Kind == "" {
		r.Source.Kind = "file"
	}
	if r.Parser.Kind == "" {
		r.Parser.Kind = "csv"
	}
	if r.Parser.Options == nil {
		r.Parser.Options = Options{}
	}
	if r.Remote.Timeout == "" {
		r.Remote.Timeout = DefaultTimeout
	}
	if r.Sync.ListDelimiter == "" {
		r.Sync.ListDelimiter = DefaultListDelimiter
	}
	if r.Sync.DateFormat == "" {
		r.Sync.DateFormat = DefaultDateFormat
	}
	if r.Sync.MaxRecords <= 0 {
		r.Sync.MaxRecords = DefaultMaxRecords
	}
	r.Runtime.Workers = pickInt(r.Runtime.Workers, getenvInt(EnvWorkers, DefaultWorkers))
	r.Sync.PageSize = pickInt(r.Sync.PageSize, getenvInt(EnvPageSize, DefaultPageSize))
	r.Sync.AssociationChunk = pickInt(r.Sync.AssociationChunk, getenvInt(EnvChunkSize, DefaultAssociationChunk))
}

// getenvInt returns the integer value of env var k, or def when unset or
// unparsable.
func getenvInt(k string, def int) int {
	if s := os.Getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

// pickInt chooses the first positive value 'a', otherwise returns 'b'.
func pickInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}

// Options fetches typed values from a free-form map. JSON numbers arrive as
// float64 and YAML numbers as int; both are accepted where an int is asked
// for. A missing key or a value of another type yields the default.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Rune returns the first rune of the string value for key, or def.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// StringMap returns the string entries of the object at key. It returns an
// empty map when key is missing or not an object.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		if m, ok := v.(map[string]any); ok {
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		}
	}
	return res
}

// UnmarshalJSON makes a missing or null "options" object decode to an empty,
// non-nil map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
