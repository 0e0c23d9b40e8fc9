// Package remotetest provides an in-memory remote.Transport for tests. It
// understands the filters rendered by remote.Criteria, keeps to-many
// relations, paginates reads and counts calls per operation.
package remotetest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"dataloader/internal/entity"
	"dataloader/internal/meta"
	"dataloader/internal/remote"
)

type relKey struct {
	entity   string
	id       int64
	relation string
}

// Store is a fake remote service. The zero value is not usable; call New.
type Store struct {
	mu        sync.Mutex
	schemas   map[string]meta.RawEntity
	records   map[string][]map[string]any
	relations map[relKey]map[int64]bool
	nextID    int64
	calls     map[remote.Op]int
	completed []map[string]any

	// DenyExternalID makes the external-id fast path answer 403.
	DenyExternalID bool
	// FailOp, when set, makes calls of that op fail with status 500 once
	// FailAfter calls of it have succeeded.
	FailOp    remote.Op
	FailAfter int
}

// New returns an empty store that serves the given schemas.
func New(schemas ...meta.RawEntity) *Store {
	s := &Store{
		schemas:   map[string]meta.RawEntity{},
		records:   map[string][]map[string]any{},
		relations: map[relKey]map[int64]bool{},
		nextID:    1000,
		calls:     map[remote.Op]int{},
	}
	for _, r := range schemas {
		s.schemas[strings.ToLower(r.Entity)] = r
	}
	return s
}

// Seed inserts a record directly and returns its id.
func (s *Store) Seed(entityType string, fields map[string]any) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(entityType, fields)
}

// Link adds ids to a relation directly.
func (s *Store) Link(entityType string, id int64, relation string, ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.link(relKey{entityType, id, relation}, ids, true)
}

// Related returns the sorted ids of a relation.
func (s *Store) Related(entityType string, id int64, relation string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.related(relKey{entityType, id, relation})
}

// Record returns a copy of the stored record.
func (s *Store) Record(entityType string, id int64) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.find(entityType, id); i >= 0 {
		return clone(s.records[entityType][i]), true
	}
	return nil, false
}

// Count returns the number of records of entityType.
func (s *Store) Count(entityType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[entityType])
}

// Calls returns how many calls of op were served.
func (s *Store) Calls(op remote.Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// ResetCalls zeroes the call counters.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = map[remote.Op]int{}
}

// Completed returns the completion summaries received.
func (s *Store) Completed() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.completed...)
}

// Call implements remote.Transport.
func (s *Store) Call(_ context.Context, req remote.Request) (*remote.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[req.Op]++

	if s.FailOp != "" && req.Op == s.FailOp && s.calls[req.Op] > s.FailAfter {
		return nil, &remote.CallError{Op: req.Op, Entity: req.Entity, Status: http.StatusInternalServerError, Err: fmt.Errorf("injected failure")}
	}

	switch req.Op {
	case remote.OpMeta:
		raw, ok := s.schemas[strings.ToLower(req.Entity)]
		if !ok {
			return nil, &remote.CallError{Op: req.Op, Entity: req.Entity, Status: http.StatusNotFound, Err: fmt.Errorf("unknown entity")}
		}
		return &remote.Response{Meta: &raw}, nil

	case remote.OpSearch, remote.OpQuery:
		preds, err := parseFilter(req.Op, req.Filter)
		if err != nil {
			return nil, &remote.CallError{Op: req.Op, Entity: req.Entity, Status: http.StatusBadRequest, Err: err}
		}
		var hits []map[string]any
		for _, r := range s.records[req.Entity] {
			if matchAll(r, preds) {
				hits = append(hits, clone(r))
			}
		}
		return page(hits, req.Start, req.Count), nil

	case remote.OpByExternalID:
		if s.DenyExternalID {
			return nil, &remote.CallError{Op: req.Op, Entity: req.Entity, Status: http.StatusForbidden, Err: fmt.Errorf("DataLoader Administration entitlement required")}
		}
		var hits []map[string]any
		for _, r := range s.records[req.Entity] {
			if strings.EqualFold(value(r, "externalID"), req.ExternalID) {
				hits = append(hits, clone(r))
			}
		}
		return &remote.Response{Data: hits, Total: len(hits), Count: len(hits)}, nil

	case remote.OpInsert:
		id := s.insert(req.Entity, req.Data)
		return &remote.Response{ChangedEntityID: id, ChangeType: "INSERT"}, nil

	case remote.OpUpdate:
		i := s.find(req.Entity, req.ID)
		if i < 0 {
			return nil, &remote.CallError{Op: req.Op, Entity: req.Entity, Status: http.StatusNotFound, Err: fmt.Errorf("no %s %d", req.Entity, req.ID)}
		}
		for k, v := range req.Data {
			s.records[req.Entity][i][k] = v
		}
		return &remote.Response{ChangedEntityID: req.ID, ChangeType: "UPDATE"}, nil

	case remote.OpDelete:
		i := s.find(req.Entity, req.ID)
		if i < 0 {
			return nil, &remote.CallError{Op: req.Op, Entity: req.Entity, Status: http.StatusNotFound, Err: fmt.Errorf("no %s %d", req.Entity, req.ID)}
		}
		rs := s.records[req.Entity]
		s.records[req.Entity] = append(rs[:i:i], rs[i+1:]...)
		return &remote.Response{ChangedEntityID: req.ID, ChangeType: "DELETE"}, nil

	case remote.OpAssociations:
		ids := s.related(relKey{req.Entity, req.ID, req.Relation})
		data := make([]map[string]any, len(ids))
		for i, id := range ids {
			data[i] = map[string]any{"id": id}
		}
		return page(data, req.Start, req.Count), nil

	case remote.OpAssociate, remote.OpDisassociate:
		s.link(relKey{req.Entity, req.ID, req.Relation}, req.IDs, req.Op == remote.OpAssociate)
		return &remote.Response{ChangedEntityID: req.ID}, nil

	case remote.OpComplete:
		s.completed = append(s.completed, clone(req.Data))
		return &remote.Response{}, nil
	}
	return nil, &remote.CallError{Op: req.Op, Err: fmt.Errorf("unsupported op")}
}

func (s *Store) insert(entityType string, fields map[string]any) int64 {
	s.nextID++
	r := clone(fields)
	if r == nil {
		r = map[string]any{}
	}
	if id, ok := entity.ToInt64(r["id"]); ok && id > 0 {
		r["id"] = id
		s.records[entityType] = append(s.records[entityType], r)
		return id
	}
	r["id"] = s.nextID
	s.records[entityType] = append(s.records[entityType], r)
	return s.nextID
}

func (s *Store) find(entityType string, id int64) int {
	for i, r := range s.records[entityType] {
		if rid, _ := entity.ToInt64(r["id"]); rid == id {
			return i
		}
	}
	return -1
}

func (s *Store) link(k relKey, ids []int64, add bool) {
	set := s.relations[k]
	if set == nil {
		set = map[int64]bool{}
		s.relations[k] = set
	}
	for _, id := range ids {
		if add {
			set[id] = true
		} else {
			delete(set, id)
		}
	}
}

func (s *Store) related(k relKey) []int64 {
	out := make([]int64, 0, len(s.relations[k]))
	for id := range s.relations[k] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func page(all []map[string]any, start, count int) *remote.Response {
	if count <= 0 {
		count = len(all)
	}
	end := min(start+count, len(all))
	var data []map[string]any
	if start < end {
		data = all[start:end]
	}
	return &remote.Response{Data: data, Total: len(all), Start: start, Count: len(data)}
}

// predicate matches a record field against any of values. gt selects the
// numeric "field>n" form.
type predicate struct {
	path   []string
	values []string
	gt     bool
}

func parseFilter(op remote.Op, filter string) ([]predicate, error) {
	var preds []predicate
	for _, term := range strings.Split(filter, " AND ") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		var p predicate
		var field, rest string
		switch {
		case op == remote.OpSearch:
			f, r, ok := strings.Cut(term, ":")
			if !ok {
				return nil, fmt.Errorf("bad search term %q", term)
			}
			field, rest = f, r
			if strings.HasPrefix(rest, "(") && strings.HasSuffix(rest, ")") {
				for _, v := range strings.Split(rest[1:len(rest)-1], " OR ") {
					p.values = append(p.values, unquote(v, `"`))
				}
			} else {
				p.values = []string{unquote(rest, `"`)}
			}
		case strings.Contains(term, " IN ("):
			f, r, _ := strings.Cut(term, " IN (")
			field, rest = f, strings.TrimSuffix(r, ")")
			for _, v := range strings.Split(rest, ",") {
				p.values = append(p.values, unquote(v, "'"))
			}
		case strings.Contains(term, ">"):
			f, r, _ := strings.Cut(term, ">")
			field, p.gt, p.values = f, true, []string{strings.TrimSpace(r)}
		default:
			f, r, ok := strings.Cut(term, "=")
			if !ok {
				return nil, fmt.Errorf("bad where term %q", term)
			}
			field, p.values = f, []string{unquote(r, "'")}
		}
		p.path = strings.Split(strings.TrimSpace(field), ".")
		preds = append(preds, p)
	}
	return preds, nil
}

func unquote(v, q string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && strings.HasPrefix(v, q) && strings.HasSuffix(v, q) {
		v = v[1 : len(v)-1]
	}
	if q == "'" {
		return strings.ReplaceAll(v, "''", "'")
	}
	return strings.ReplaceAll(v, `\"`, `"`)
}

func matchAll(r map[string]any, preds []predicate) bool {
	for _, p := range preds {
		got := value(r, p.path...)
		ok := false
		for _, v := range p.values {
			if p.gt {
				a, err1 := strconv.ParseFloat(got, 64)
				b, err2 := strconv.ParseFloat(v, 64)
				ok = err1 == nil && err2 == nil && a > b
			} else {
				ok = strings.EqualFold(got, v)
			}
			if ok {
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func value(r map[string]any, path ...string) string {
	e := entity.Entity{Fields: r}
	return e.String(path...)
}

func clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			v = clone(sub)
		}
		out[k] = v
	}
	return out
}
