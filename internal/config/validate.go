package config

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"dataloader/internal/entity"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks the run.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is reported but does not block the run.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is one validation finding. Path is a dotted path into the run file,
// e.g. "sync.exist_fields.Candidate".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// maxPageSize is the largest page the remote service serves.
const maxPageSize = 500

// ValidateRun checks r statically against the entity types in reg (the
// default registry when nil). Call it after ApplyDefaults.
func ValidateRun(r Run, reg *entity.Registry) []Issue {
	if reg == nil {
		reg = entity.DefaultRegistry()
	}
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, a ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(r.Job) == "" {
		add(SeverityError, "job", "job must not be empty; it labels metrics, logs and journal rows")
	}
	switch r.Command {
	case "load", "delete":
	default:
		add(SeverityError, "command", "unknown command %q; want load or delete", r.Command)
	}

	et, ok := reg.Lookup(r.Entity)
	switch {
	case strings.TrimSpace(r.Entity) == "":
		add(SeverityError, "entity", "entity must not be empty")
	case !ok:
		add(SeverityError, "entity", "unknown entity type %q", r.Entity)
	case r.Command == "load" && !et.Creatable() && !et.Updatable():
		add(SeverityError, "entity", "%s is read-only and cannot be loaded", et.Name)
	case r.Command == "delete" && !et.Deletable():
		add(SeverityError, "entity", "%s cannot be deleted", et.Name)
	}

	issues = append(issues, validateSource(r.Source)...)
	issues = append(issues, validateParser(r.Parser)...)
	issues = append(issues, validateRemote(r.Remote)...)
	issues = append(issues, validateSync(r, reg)...)
	issues = append(issues, validateRuntime(r.Runtime)...)
	issues = append(issues, validateJournal(r.Journal)...)
	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue
	switch s.Kind {
	case "file":
		if strings.TrimSpace(s.File.Path) == "" {
			issues = append(issues, Issue{SeverityError, "source.file.path", "file source requires a non-empty path"})
		}
	case "":
		issues = append(issues, Issue{SeverityError, "source.kind", "source.kind must not be empty"})
	default:
		issues = append(issues, Issue{SeverityError, "source.kind", fmt.Sprintf("unsupported source kind %q", s.Kind)})
	}
	return issues
}

func validateParser(p Parser) []Issue {
	var issues []Issue
	if p.Kind != "csv" {
		return append(issues, Issue{SeverityError, "parser.kind", fmt.Sprintf("unsupported parser kind %q; want csv", p.Kind)})
	}
	if comma := p.Options.String("comma", ","); utf8.RuneCountInString(comma) != 1 {
		issues = append(issues, Issue{SeverityError, "parser.options.comma", fmt.Sprintf("comma must be a single character, got %q", comma)})
	}
	for from, to := range p.Options.StringMap("header_map") {
		if strings.TrimSpace(to) == "" {
			issues = append(issues, Issue{SeverityError, "parser.options.header_map." + from, "header_map target must not be empty"})
		}
	}
	return issues
}

func validateRemote(r Remote) []Issue {
	var issues []Issue
	u, err := url.Parse(strings.TrimSpace(r.RestURL))
	switch {
	case strings.TrimSpace(r.RestURL) == "":
		issues = append(issues, Issue{SeverityError, "remote.rest_url", "rest_url must not be empty"})
	case err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "":
		issues = append(issues, Issue{SeverityError, "remote.rest_url", fmt.Sprintf("rest_url %q is not an http(s) URL", r.RestURL)})
	case u.Scheme == "http":
		issues = append(issues, Issue{SeverityWarning, "remote.rest_url", "rest_url uses plain http; the session token is sent unencrypted"})
	}
	if strings.TrimSpace(r.Token) == "" {
		issues = append(issues, Issue{SeverityError, "remote.token", "token must not be empty"})
	}
	if d, err := r.TimeoutDuration(); err != nil || d <= 0 {
		issues = append(issues, Issue{SeverityError, "remote.timeout", fmt.Sprintf("timeout %q is not a positive duration", r.Timeout)})
	}
	if r.MaxRetries < 0 {
		issues = append(issues, Issue{SeverityError, "remote.max_retries", "max_retries must be >= 0"})
	}
	if r.InsecureSkipVerify {
		issues = append(issues, Issue{SeverityWarning, "remote.insecure_skip_verify", "TLS certificate verification is disabled"})
	}
	return issues
}

func validateSync(r Run, reg *entity.Registry) []Issue {
	var issues []Issue
	s := r.Sync
	for name, fields := range s.ExistFields {
		path := "sync.exist_fields." + name
		if _, ok := reg.Lookup(name); !ok {
			issues = append(issues, Issue{SeverityError, path, fmt.Sprintf("unknown entity type %q", name)})
		}
		if len(fields) == 0 {
			issues = append(issues, Issue{SeverityWarning, path, "no exist fields listed; every row will be inserted"})
		}
		for i, f := range fields {
			if strings.TrimSpace(f) == "" {
				issues = append(issues, Issue{SeverityError, fmt.Sprintf("%s[%d]", path, i), "exist field must not be empty"})
			}
		}
	}
	if r.Command == "load" && r.Entity != "" && !hasExistFields(s.ExistFields, r.Entity) {
		issues = append(issues, Issue{SeverityWarning, "sync.exist_fields",
			fmt.Sprintf("no exist fields for %s; every row will be inserted", r.Entity)})
	}
	if s.ListDelimiter == "" {
		issues = append(issues, Issue{SeverityError, "sync.list_delimiter", "list_delimiter must not be empty"})
	}
	if s.PageSize <= 0 || s.PageSize > maxPageSize {
		issues = append(issues, Issue{SeverityError, "sync.page_size", fmt.Sprintf("page_size must be in 1..%d, got %d", maxPageSize, s.PageSize)})
	}
	if s.MaxRecords < s.PageSize {
		issues = append(issues, Issue{SeverityWarning, "sync.max_records", "max_records is smaller than page_size; searches return a single short page"})
	}
	if s.AssociationChunk <= 0 {
		issues = append(issues, Issue{SeverityError, "sync.association_chunk", "association_chunk must be > 0"})
	}
	if s.ProcessEmptyAssociations {
		issues = append(issues, Issue{SeverityWarning, "sync.process_empty_associations", "empty to-many cells will remove existing associations"})
	}
	return issues
}

func hasExistFields(m map[string][]string, et string) bool {
	for k, v := range m {
		if strings.EqualFold(k, et) && len(v) > 0 {
			return true
		}
	}
	return false
}

func validateRuntime(rt RuntimeConfig) []Issue {
	var issues []Issue
	switch {
	case rt.Workers <= 0:
		issues = append(issues, Issue{SeverityError, "runtime.workers", "workers must be > 0"})
	case rt.Workers > 50:
		issues = append(issues, Issue{SeverityWarning, "runtime.workers", fmt.Sprintf("%d workers likely exceeds the remote concurrency limit", rt.Workers)})
	}
	return issues
}

func validateJournal(j Journal) []Issue {
	var issues []Issue
	switch strings.ToLower(j.Kind) {
	case "":
		if j.Resume {
			issues = append(issues, Issue{SeverityError, "journal.resume", "resume needs a journal kind"})
		}
		return issues
	case "sqlite", "postgres":
	default:
		issues = append(issues, Issue{SeverityError, "journal.kind", fmt.Sprintf("unsupported journal kind %q; want sqlite or postgres", j.Kind)})
	}
	if strings.TrimSpace(j.DSN) == "" {
		issues = append(issues, Issue{SeverityError, "journal.dsn", "journal dsn must not be empty"})
	}
	return issues
}
