// Package assoc reconciles to-many relations: it reads the relation's current
// target ids, diffs them against the ids a row asks for, and applies the
// difference with removals before additions.
package assoc

import (
	"context"
	"fmt"
	"sort"

	"dataloader/internal/metrics"
)

// Remote is the subset of the remote client the reconciler needs.
// *remote.Client satisfies it.
type Remote interface {
	Associations(ctx context.Context, entityType string, id int64, relation string) ([]int64, error)
	Associate(ctx context.Context, entityType string, id int64, relation string, ids []int64) error
	Disassociate(ctx context.Context, entityType string, id int64, relation string, ids []int64) error
}

// Delta is the change needed to make one relation equal its desired set.
// ToAdd and ToRemove are disjoint and sorted.
type Delta struct {
	Entity   string
	ID       int64
	Relation string
	ToAdd    []int64
	ToRemove []int64
}

// Empty reports whether applying d would make no calls.
func (d Delta) Empty() bool { return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 }

func (d Delta) String() string {
	return fmt.Sprintf("%s %d %s: +%d -%d", d.Entity, d.ID, d.Relation, len(d.ToAdd), len(d.ToRemove))
}

// Diff returns desired-current as additions and current-desired as removals.
func Diff(current, desired []int64) (toAdd, toRemove []int64) {
	cur := set(current)
	want := set(desired)
	for id := range want {
		if !cur[id] {
			toAdd = append(toAdd, id)
		}
	}
	for id := range cur {
		if !want[id] {
			toRemove = append(toRemove, id)
		}
	}
	sort.Slice(toAdd, func(i, j int) bool { return toAdd[i] < toAdd[j] })
	sort.Slice(toRemove, func(i, j int) bool { return toRemove[i] < toRemove[j] })
	return toAdd, toRemove
}

func set(ids []int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// Reconciler computes and applies association deltas. It holds no per-row
// state and is safe for concurrent use.
type Reconciler struct {
	remote Remote
	// skipEmpty leaves a relation untouched when the desired set is empty.
	skipEmpty bool
	job       string
}

// New returns a Reconciler. With skipEmpty set, an empty desired set makes no
// remote calls at all instead of clearing the relation.
func New(r Remote, skipEmpty bool, job string) *Reconciler {
	return &Reconciler{remote: r, skipEmpty: skipEmpty, job: job}
}

// Reconcile reads the current targets of relation and returns the delta to
// reach desired. ok is false when the relation is skipped.
func (r *Reconciler) Reconcile(ctx context.Context, entityType string, id int64, relation string, desired []int64) (d Delta, ok bool, err error) {
	if len(desired) == 0 && r.skipEmpty {
		return Delta{}, false, nil
	}
	current, err := r.remote.Associations(ctx, entityType, id, relation)
	if err != nil {
		return Delta{}, false, fmt.Errorf("read %s.%s of %d: %w", entityType, relation, id, err)
	}
	d = Delta{Entity: entityType, ID: id, Relation: relation}
	d.ToAdd, d.ToRemove = Diff(current, desired)
	return d, true, nil
}

// Apply issues the removals, then the additions. A failure stops before the
// additions; whatever was already applied stays applied.
func (r *Reconciler) Apply(ctx context.Context, d Delta) error {
	if len(d.ToRemove) > 0 {
		if err := r.remote.Disassociate(ctx, d.Entity, d.ID, d.Relation, d.ToRemove); err != nil {
			return err
		}
		metrics.RecordAssociation(r.job, "remove", len(d.ToRemove))
	}
	if len(d.ToAdd) > 0 {
		if err := r.remote.Associate(ctx, d.Entity, d.ID, d.Relation, d.ToAdd); err != nil {
			return err
		}
		metrics.RecordAssociation(r.job, "add", len(d.ToAdd))
	}
	return nil
}

// Sync reconciles and applies in one step, returning the applied delta.
func (r *Reconciler) Sync(ctx context.Context, entityType string, id int64, relation string, desired []int64) (Delta, error) {
	d, ok, err := r.Reconcile(ctx, entityType, id, relation, desired)
	if err != nil || !ok {
		return d, err
	}
	return d, r.Apply(ctx, d)
}
