package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"reflect"
	"strings"
	"sync"
	"testing"

	"dataloader/internal/assoc"
	"dataloader/internal/entity"
	"dataloader/internal/lookup"
	"dataloader/internal/meta"
	"dataloader/internal/record"
	"dataloader/internal/remote"
	"dataloader/internal/remote/remotetest"
	"dataloader/internal/result"
)

func candidateMeta() meta.RawEntity {
	return meta.RawEntity{
		Entity: "Candidate",
		Fields: []meta.RawField{
			{Name: "id", Type: meta.TypeID, DataType: "Integer"},
			{Name: "externalID", Type: meta.TypeScalar, DataType: "String"},
			{Name: "name", Type: meta.TypeScalar, DataType: "String"},
			{Name: "firstName", Type: meta.TypeScalar, DataType: "String"},
			{Name: "lastName", Type: meta.TypeScalar, DataType: "String"},
			{Name: "dateAvailable", Type: meta.TypeScalar, DataType: "Timestamp"},
			{Name: "address", Type: meta.TypeComposite, DataType: "Address", Fields: []meta.RawField{
				{Name: "city", Type: meta.TypeScalar, DataType: "String"},
				{Name: "countryID", Type: meta.TypeScalar, DataType: "Integer"},
			}},
			{Name: "owner", Type: meta.TypeToOne, AssociatedEntity: &meta.RawEntity{
				Entity: "CorporateUser",
				Fields: []meta.RawField{{Name: "id", Type: meta.TypeID, DataType: "Integer"}, {Name: "email", Type: meta.TypeScalar, DataType: "String"}},
			}},
			{Name: "primarySkills", Type: meta.TypeToMany, AssociatedEntity: &meta.RawEntity{
				Entity: "Skill",
				Fields: []meta.RawField{{Name: "id", Type: meta.TypeID, DataType: "Integer"}, {Name: "name", Type: meta.TypeScalar, DataType: "String"}},
			}},
		},
	}
}

type harness struct {
	store  *remotetest.Store
	runner *Runner
	loader *lookup.Loader
}

// newRun wires a fresh run (fresh caches) over store.
func newRun(t *testing.T, store *remotetest.Store, cfg Config, chunk int) *harness {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	client := remote.NewClient(store, remote.Options{ChunkSize: chunk, Logger: quiet})
	catalog := meta.NewCatalog(client, quiet)
	mapper := record.NewMapper(catalog, map[string][]string{"Candidate": {"externalID"}}, quiet)
	loader := lookup.NewLoader(lookup.New(), "")
	rec := assoc.New(client, !cfg.ProcessEmpty, "")
	return &harness{
		store:  store,
		loader: loader,
		runner: NewRunner(cfg, mapper, client, loader, rec, entity.DefaultRegistry(), WithLogger(quiet)),
	}
}

var candidate = entity.DefaultRegistry().MustLookup("Candidate")

func row(n int, kv ...string) record.Row {
	var names, values []string
	for i := 0; i+1 < len(kv); i += 2 {
		names = append(names, kv[i])
		values = append(values, kv[i+1])
	}
	return record.NewRow(n, "candidates.csv", names, values)
}

func TestLoad_CreateThenUpdateIsIdempotent(t *testing.T) {
	t.Parallel()

	store := remotetest.New(candidateMeta())
	idX := store.Seed("Skill", map[string]any{"name": "X"})
	idY := store.Seed("Skill", map[string]any{"name": "Y"})
	cfg := Config{Delimiter: ","}

	first := newRun(t, store, cfg, 0)
	for _, r := range []record.Row{
		row(1, "externalID", "ext-1", "name", "A", "primarySkills.name", "X,Y"),
		row(2, "externalID", "ext-2", "name", "B", "primarySkills.name", "Y,X"),
	} {
		out := first.runner.Load(context.Background(), candidate, r)
		if out.Err != nil || out.Result.Action != result.Insert {
			t.Fatalf("first run row %d: %v (%v)", r.Number, out.Result, out.Err)
		}
		if got, want := store.Related("Candidate", out.Result.ID, "primarySkills"), []int64{idX, idY}; !reflect.DeepEqual(got, want) {
			t.Fatalf("relation=%v; want %v", got, want)
		}
	}
	if got := store.Calls(remote.OpAssociate); got != 2 {
		t.Fatalf("associate calls=%d; want 2", got)
	}
	if got := store.Calls(remote.OpDisassociate); got != 0 {
		t.Fatalf("disassociate calls=%d; want 0", got)
	}
	if got := store.Calls(remote.OpQuery); got != 1 {
		t.Fatalf("skill queries=%d; want 1 (reordered values share a key)", got)
	}

	store.ResetCalls()
	second := newRun(t, store, cfg, 0)
	for _, r := range []record.Row{
		row(1, "externalID", "ext-1", "name", "A", "primarySkills.name", "Y,X"),
		row(2, "externalID", "ext-2", "name", "B", "primarySkills.name", "X,Y"),
	} {
		out := second.runner.Load(context.Background(), candidate, r)
		if out.Err != nil || out.Result.Action != result.Update {
			t.Fatalf("second run row %d: %v (%v)", r.Number, out.Result, out.Err)
		}
	}
	if a, d := store.Calls(remote.OpAssociate), store.Calls(remote.OpDisassociate); a != 0 || d != 0 {
		t.Fatalf("second run associate=%d disassociate=%d; want 0 and 0", a, d)
	}
	if got := store.Count("Candidate"); got != 2 {
		t.Fatalf("candidates=%d; want 2", got)
	}
}

func TestLoad_StateTrace(t *testing.T) {
	t.Parallel()

	h := newRun(t, remotetest.New(candidateMeta()), Config{}, 0)
	out := h.runner.Load(context.Background(), candidate, row(1, "externalID", "e", "name", "A"))
	want := []State{StateStart, StateMapped, StateNotFound, StateCreated, StateReconciled, StateReported}
	if !reflect.DeepEqual(out.Trace, want) {
		t.Fatalf("trace=%v; want %v", out.Trace, want)
	}

	out = h.runner.Load(context.Background(), candidate, row(2, "externalID", "e", "name", "B"))
	want = []State{StateStart, StateMapped, StateFound, StateUpdated, StateReconciled, StateReported}
	if out.Result.Action != result.Update || !reflect.DeepEqual(out.Trace, want) {
		t.Fatalf("result=%v trace=%v; want UPDATE %v", out.Result, out.Trace, want)
	}

	out = h.runner.Load(context.Background(), candidate, row(3, "bogus", "x"))
	if want := []State{StateStart, StateReported}; !reflect.DeepEqual(out.Trace, want) {
		t.Fatalf("failure trace=%v; want %v", out.Trace, want)
	}
}

func TestLoad_CreatedEntityIsCached(t *testing.T) {
	t.Parallel()

	store := remotetest.New(candidateMeta())
	h := newRun(t, store, Config{}, 0)
	h.runner.Load(context.Background(), candidate, row(1, "externalID", "e-9", "name", "A"))
	before := store.Calls(remote.OpByExternalID) + store.Calls(remote.OpSearch)

	out := h.runner.Load(context.Background(), candidate, row(2, "externalID", "e-9", "name", "B"))
	if out.Result.Action != result.Update {
		t.Fatalf("result=%v; want UPDATE", out.Result)
	}
	if after := store.Calls(remote.OpByExternalID) + store.Calls(remote.OpSearch); after != before {
		t.Fatalf("lookup calls %d -> %d; want served from cache", before, after)
	}
}

func TestLoad_WritesTypedFields(t *testing.T) {
	t.Parallel()

	store := remotetest.New(candidateMeta())
	owner := store.Seed("CorporateUser", map[string]any{"email": "boss@example.com"})
	h := newRun(t, store, Config{}, 0)

	out := h.runner.Load(context.Background(), candidate, row(1,
		"externalID", "e", "firstName", "Ada", "lastName", "Lovelace",
		"address.city", "London", "address.countryID", "2359",
		"dateAvailable", "12/10/2026", "owner.email", "boss@example.com"))
	if out.Err != nil {
		t.Fatalf("Load: %v", out.Err)
	}
	rec, ok := store.Record("Candidate", out.Result.ID)
	if !ok {
		t.Fatalf("candidate %d not stored", out.Result.ID)
	}
	if rec["name"] != "Ada Lovelace" {
		t.Fatalf("name=%v; want synthesized %q", rec["name"], "Ada Lovelace")
	}
	addr, _ := rec["address"].(map[string]any)
	if addr["city"] != "London" || addr["countryID"] != int64(2359) {
		t.Fatalf("address=%v", addr)
	}
	if _, ok := rec["dateAvailable"].(int64); !ok {
		t.Fatalf("dateAvailable=%T; want epoch millis", rec["dateAvailable"])
	}
	o, _ := rec["owner"].(map[string]any)
	if o["id"] != owner {
		t.Fatalf("owner=%v; want id %d", o, owner)
	}
}

func TestLoad_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(*remotetest.Store)
		row     record.Row
		code    string
		message string
		created bool
	}{
		{
			name:    "unknown column",
			row:     row(1, "externalID", "e", "favoriteColor", "red"),
			code:    result.CodeMapping,
			message: "favoriteColor",
		},
		{
			name:    "address misuse",
			row:     row(1, "externalID", "e", "city", "Paris"),
			code:    result.CodeMapping,
			message: "Must use 'address.city'",
		},
		{
			name: "ambiguous match",
			setup: func(s *remotetest.Store) {
				s.Seed("Candidate", map[string]any{"externalID": "dup"})
				s.Seed("Candidate", map[string]any{"externalID": "dup"})
			},
			row:     row(1, "externalID", "dup", "name", "A"),
			code:    result.CodeAmbiguousMatch,
			message: "Multiple Records Exist. Found 2 Candidate records with the same ExistField criteria of: externalID=dup",
		},
		{
			name:    "missing to-one target",
			row:     row(1, "externalID", "e", "owner.email", "nobody@example.com"),
			code:    result.CodeNotFound,
			message: "CorporateUser",
		},
		{
			name:    "missing to-many target",
			setup:   func(s *remotetest.Store) { s.Seed("Skill", map[string]any{"name": "Go"}) },
			row:     row(1, "externalID", "e", "primarySkills.name", "Go;Cobol"),
			code:    result.CodeNotFound,
			message: "Cobol",
			created: true,
		},
		{
			name:    "to-many value differing in case",
			setup:   func(s *remotetest.Store) { s.Seed("Skill", map[string]any{"name": "Go"}) },
			row:     row(1, "externalID", "e", "primarySkills.name", "go"),
			code:    result.CodeNotFound,
			message: "[go]",
			created: true,
		},
		{
			name:    "bad integer",
			row:     row(1, "externalID", "e", "address.countryID", "France"),
			code:    result.CodeMapping,
			message: "invalid Integer",
		},
		{
			name:    "remote write failure",
			setup:   func(s *remotetest.Store) { s.FailOp = remote.OpInsert },
			row:     row(1, "externalID", "e", "name", "A"),
			code:    result.CodeRemoteCall,
			message: "injected failure",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := remotetest.New(candidateMeta())
			if tc.setup != nil {
				tc.setup(store)
			}
			h := newRun(t, store, Config{}, 0)
			out := h.runner.Load(context.Background(), candidate, tc.row)

			if out.Result.Action != result.Failure || out.Result.Code != tc.code {
				t.Fatalf("result=%v; want FAILURE code=%s", out.Result, tc.code)
			}
			if !strings.Contains(out.Result.Message, tc.message) {
				t.Fatalf("message=%q; want it to contain %q", out.Result.Message, tc.message)
			}
			if tc.created != (out.Result.ID != 0) {
				t.Fatalf("id=%d; created=%v", out.Result.ID, tc.created)
			}
		})
	}
}

func TestLoad_PartialAssociationKeepsAppliedChunks(t *testing.T) {
	t.Parallel()

	store := remotetest.New(candidateMeta())
	var names []string
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("S%d", i)
		store.Seed("Skill", map[string]any{"name": name})
		names = append(names, name)
	}
	store.FailOp, store.FailAfter = remote.OpAssociate, 1

	h := newRun(t, store, Config{}, 2)
	out := h.runner.Load(context.Background(), candidate, row(1, "externalID", "e", "primarySkills.name", strings.Join(names, ";")))

	var pe *remote.PartialAssociationError
	if out.Result.Code != result.CodePartialAssociation || !errors.As(out.Err, &pe) {
		t.Fatalf("result=%v err=%v; want partial association failure", out.Result, out.Err)
	}
	if got := store.Related("Candidate", out.Result.ID, "primarySkills"); len(got) != 2 || len(pe.Applied) != 2 || len(pe.Failed) != 3 {
		t.Fatalf("relation=%v applied=%v failed=%v", got, pe.Applied, pe.Failed)
	}
}

func TestLoad_EmptyToManyCell(t *testing.T) {
	t.Parallel()

	for _, processEmpty := range []bool{false, true} {
		store := remotetest.New(candidateMeta())
		id := store.Seed("Candidate", map[string]any{"externalID": "e"})
		store.Link("Candidate", id, "primarySkills", 1, 2)

		h := newRun(t, store, Config{ProcessEmpty: processEmpty}, 0)
		out := h.runner.Load(context.Background(), candidate, row(1, "externalID", "e", "primarySkills.name", ""))
		if out.Err != nil {
			t.Fatalf("processEmpty=%v: %v", processEmpty, out.Err)
		}
		got := len(store.Related("Candidate", id, "primarySkills"))
		if processEmpty && got != 0 {
			t.Fatalf("processEmpty: relation has %d ids; want cleared", got)
		}
		if !processEmpty && (got != 2 || store.Calls(remote.OpAssociations) != 0) {
			t.Fatalf("skip empty: relation=%d reads=%d; want untouched and unread", got, store.Calls(remote.OpAssociations))
		}
	}
}

func TestLoad_ConcurrentRowsShareOneTargetLookup(t *testing.T) {
	t.Parallel()

	store := remotetest.New(candidateMeta())
	store.Seed("Skill", map[string]any{"name": "Go"})
	store.Seed("Skill", map[string]any{"name": "SQL"})
	h := newRun(t, store, Config{}, 0)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			skills := "Go;SQL"
			if i%2 == 0 {
				skills = "SQL;Go"
			}
			out := h.runner.Load(context.Background(), candidate, row(i+1, "externalID", fmt.Sprintf("e-%d", i), "primarySkills.name", skills))
			if out.Err != nil {
				t.Errorf("row %d: %v", i+1, out.Err)
			}
		}(i)
	}
	wg.Wait()

	if got := store.Calls(remote.OpQuery); got != 1 {
		t.Fatalf("skill queries=%d; want 1", got)
	}
	if _, _, fetches := h.loader.Stats(); fetches != 41 {
		t.Fatalf("fetches=%d; want 41 (40 candidates + 1 skill set)", fetches)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()

	store := remotetest.New()
	cand := store.Seed("Candidate", map[string]any{"name": "A"})
	obj := store.Seed("CandidateCustomObjectInstance1", map[string]any{"text1": "x"})
	h := newRun(t, store, Config{}, 0)
	reg := entity.DefaultRegistry()

	out := h.runner.Delete(context.Background(), reg.MustLookup("Candidate"), row(1, "id", fmt.Sprint(cand)))
	if out.Result.Action != result.Delete || out.Result.ID != cand {
		t.Fatalf("soft delete=%v (%v)", out.Result, out.Err)
	}
	if rec, _ := store.Record("Candidate", cand); rec["isDeleted"] != true {
		t.Fatalf("candidate=%v; want isDeleted", rec)
	}

	out = h.runner.Delete(context.Background(), reg.MustLookup("CandidateCustomObjectInstance1"), row(2, "id", fmt.Sprint(obj)))
	if out.Result.Action != result.Delete || store.Count("CandidateCustomObjectInstance1") != 0 {
		t.Fatalf("hard delete=%v (%v)", out.Result, out.Err)
	}
	if want := []State{StateStart, StateMapped, StateFound, StateDeleted, StateReported}; !reflect.DeepEqual(out.Trace, want) {
		t.Fatalf("trace=%v; want %v", out.Trace, want)
	}

	for _, tc := range []struct {
		et   string
		row  record.Row
		code string
	}{
		{"Candidate", row(3, "id", "999999"), result.CodeNotFound},
		{"Candidate", row(4, "id", "abc"), result.CodeMapping},
		{"Candidate", row(5, "name", "A"), result.CodeMapping},
		{"Country", row(6, "id", "1"), result.CodeUnsupported},
	} {
		out := h.runner.Delete(context.Background(), reg.MustLookup(tc.et), tc.row)
		if out.Result.Action != result.Failure || out.Result.Code != tc.code {
			t.Fatalf("row %d: %v; want FAILURE code=%s", tc.row.Number, out.Result, tc.code)
		}
	}
}

type panicky struct{ Remote }

func (panicky) Insert(context.Context, *entity.Entity) (int64, error) { panic("boom") }

func TestRun_RecoversPanics(t *testing.T) {
	t.Parallel()

	store := remotetest.New(candidateMeta())
	h := newRun(t, store, Config{}, 0)
	h.runner.remote = panicky{h.runner.remote}

	out := h.runner.Load(context.Background(), candidate, row(7, "externalID", "e"))
	if out.Result.Action != result.Failure || out.Result.Code != result.CodeInternal || out.Result.Row != 7 {
		t.Fatalf("result=%v; want FAILURE code=internal for row 7", out.Result)
	}
	if out.Trace[len(out.Trace)-1] != StateReported {
		t.Fatalf("trace=%v; want it to end REPORTED", out.Trace)
	}
}

func TestCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&meta.SchemaError{Entity: "X", Err: &remote.CallError{Op: remote.OpMeta}}, result.CodeSchema},
		{&record.MappingError{}, result.CodeMapping},
		{&AmbiguousMatchError{}, result.CodeAmbiguousMatch},
		{fmt.Errorf("rel: %w", &remote.PartialAssociationError{Err: &remote.CallError{}}), result.CodePartialAssociation},
		{&MissingAssociationError{}, result.CodeNotFound},
		{fmt.Errorf("x: %w", ErrNotFound), result.CodeNotFound},
		{fmt.Errorf("x: %w", ErrUnsupported), result.CodeUnsupported},
		{&remote.CallError{Op: remote.OpInsert}, result.CodeRemoteCall},
		{errors.New("other"), result.CodeInternal},
	}
	for _, tc := range tests {
		if got := Code(tc.err); got != tc.want {
			t.Fatalf("Code(%v)=%q; want %q", tc.err, got, tc.want)
		}
	}
}

func TestStateTransitions(t *testing.T) {
	t.Parallel()

	m := newMachine()
	if err := m.to(StateCreated); err == nil {
		t.Fatalf("START -> CREATED must be rejected")
	}
	for _, s := range []State{StateMapped, StateNotFound, StateCreated, StateReconciled} {
		if err := m.to(s); err != nil {
			t.Fatalf("to(%s): %v", s, err)
		}
	}
	if err := m.to(StateUpdated); err == nil {
		t.Fatalf("RECONCILED -> UPDATED must be rejected")
	}
	m.report()
	m.report()
	if n := len(m.trace); n != 6 {
		t.Fatalf("trace=%v; want one REPORTED", m.trace)
	}
}
