package solver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/djcass44/envlock/pkg/conda/repodata"
	"github.com/djcass44/envlock/pkg/matchspec"
	"github.com/djcass44/envlock/pkg/platform"
	"github.com/go-logr/logr"
)

// Solver finds a set of records that satisfies a list of match
// specs. A Solver is not safe for concurrent use, create one per
// platform.
type Solver struct {
	index    *repodata.Index
	virtual  map[string]virtualPackage
	maxSteps int

	specs map[string]*matchspec.MatchSpec
	steps int
}

type virtualPackage struct {
	version matchspec.Version
	build   string
}

// requirement is a spec waiting to be satisfied.
type requirement struct {
	spec  *matchspec.MatchSpec
	chain []string
}

// constraint is a restriction placed on a name by a chosen
// package's constrains.
type constraint struct {
	spec *matchspec.MatchSpec
	from string
}

type state struct {
	chosen      map[string]*repodata.Record
	constraints map[string][]constraint
}

func New(index *repodata.Index, virtual []platform.VirtualPackage, maxSteps int) (*Solver, error) {
	s := &Solver{
		index:    index,
		virtual:  map[string]virtualPackage{},
		maxSteps: maxSteps,
		specs:    map[string]*matchspec.MatchSpec{},
	}
	for _, v := range virtual {
		version, err := matchspec.ParseVersion(v.Version)
		if err != nil {
			return nil, fmt.Errorf("virtual package %s: %w", v.Name, err)
		}
		s.virtual[v.Name] = virtualPackage{version: version, build: v.Build}
	}
	return s, nil
}

// Solve resolves the specs and returns the chosen records
// sorted by name. Virtual packages are never returned.
func (s *Solver) Solve(ctx context.Context, specs []*matchspec.MatchSpec) ([]*repodata.Record, error) {
	log := logr.FromContextOrDiscard(ctx)
	s.steps = 0

	pending := make([]requirement, 0, len(specs))
	for _, m := range specs {
		pending = append(pending, requirement{spec: m})
	}
	st := &state{
		chosen:      map[string]*repodata.Record{},
		constraints: map[string][]constraint{},
	}
	if err := s.solve(ctx, st, pending); err != nil {
		log.V(1).Info("failed to find a solution", "steps", s.steps, "error", err.Error())
		return nil, err
	}

	out := make([]*repodata.Record, 0, len(st.chosen))
	for _, r := range st.chosen {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	log.V(1).Info("found solution", "packages", len(out), "steps", s.steps)
	return out, nil
}

func (s *Solver) parse(spec string) (*matchspec.MatchSpec, error) {
	if m, ok := s.specs[spec]; ok {
		return m, nil
	}
	m, err := matchspec.Parse(spec)
	if err != nil {
		return nil, err
	}
	s.specs[spec] = m
	return m, nil
}

func (s *Solver) solve(ctx context.Context, st *state, pending []requirement) error {
	log := logr.FromContextOrDiscard(ctx)

	for len(pending) > 0 {
		s.steps++
		if s.steps > s.maxSteps {
			return fmt.Errorf("%w after %d steps", ErrStepBudget, s.maxSteps)
		}
		if s.steps%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		req := pending[0]
		name := req.spec.Name

		if req.spec.IsVirtual() {
			if !s.virtualSatisfies(req.spec) {
				return &UnsatisfiableError{Spec: req.spec.Raw(), Chain: req.chain, Conflict: s.describeVirtual(name)}
			}
			pending = pending[1:]
			continue
		}

		if r, ok := st.chosen[name]; ok {
			if !matches(req.spec, r) {
				return &UnsatisfiableError{Spec: req.spec.Raw(), Chain: req.chain, Conflict: r.String()}
			}
			pending = pending[1:]
			continue
		}

		// this requirement needs a decision, so branch
		return s.branch(ctx, log, st, req, pending[1:])
	}
	return nil
}

func (s *Solver) branch(ctx context.Context, log logr.Logger, st *state, req requirement, rest []requirement) error {
	name := req.spec.Name
	records, err := s.index.Candidates(name, req.spec.Channel)
	if err != nil {
		return fmt.Errorf("%s: %w", req.spec.Raw(), err)
	}
	if len(records) == 0 {
		return &UnsatisfiableError{Spec: req.spec.Raw(), Chain: req.chain, notFound: !s.index.Has(name) || req.spec.Channel != ""}
	}

	candidates, conflict := s.filter(st, req.spec, records)
	if len(candidates) == 0 {
		return &UnsatisfiableError{Spec: req.spec.Raw(), Chain: req.chain, Conflict: conflict}
	}
	sortCandidates(candidates)

	var first error
	for _, c := range candidates {
		depends, constrains, err := s.parseRecord(c)
		if err != nil {
			log.V(4).Info("skipping candidate with invalid metadata", "candidate", c.Filename, "error", err.Error())
			continue
		}
		if reason := s.violates(st, constrains); reason != "" {
			log.V(6).Info("skipping candidate that conflicts with existing choices", "candidate", c.Filename, "reason", reason)
			if first == nil {
				first = &UnsatisfiableError{Spec: req.spec.Raw(), Chain: req.chain, Conflict: reason}
			}
			continue
		}

		log.V(5).Info("trying candidate", "candidate", c.Filename, "depth", len(st.chosen))
		st.chosen[name] = c
		for _, m := range constrains {
			st.constraints[m.Name] = append(st.constraints[m.Name], constraint{spec: m, from: c.String()})
		}

		chain := append(append([]string{}, req.chain...), c.String())
		next := make([]requirement, 0, len(rest)+len(depends))
		next = append(next, rest...)
		for _, d := range depends {
			next = append(next, requirement{spec: d, chain: chain})
		}

		err = s.solve(ctx, st, next)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrStepBudget) || ctx.Err() != nil {
			return err
		}
		if first == nil {
			first = err
		}

		// undo
		delete(st.chosen, name)
		for _, m := range constrains {
			cs := st.constraints[m.Name]
			st.constraints[m.Name] = cs[:len(cs)-1]
			if len(st.constraints[m.Name]) == 0 {
				delete(st.constraints, m.Name)
			}
		}
	}
	if first == nil {
		first = &UnsatisfiableError{Spec: req.spec.Raw(), Chain: req.chain}
	}
	return first
}

// filter returns the records that match the spec and every
// constraint placed on the name so far.
func (s *Solver) filter(st *state, spec *matchspec.MatchSpec, records []*repodata.Record) ([]*repodata.Record, string) {
	var out []*repodata.Record
	var conflict string
	for _, r := range records {
		if !matches(spec, r) {
			continue
		}
		ok := true
		for _, c := range st.constraints[r.Name] {
			if !matches(c.spec, r) {
				ok = false
				if conflict == "" {
					conflict = c.from + " constrains " + c.spec.Raw()
				}
				break
			}
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, conflict
}

// violates checks a candidate's constrains against the packages
// that have already been chosen.
func (s *Solver) violates(st *state, constrains []*matchspec.MatchSpec) string {
	for _, m := range constrains {
		if m.IsVirtual() {
			if _, ok := s.virtual[m.Name]; ok && !s.virtualSatisfies(m) {
				return "constrains " + m.Raw() + " but the system has " + s.describeVirtual(m.Name)
			}
			continue
		}
		if r, ok := st.chosen[m.Name]; ok && !matches(m, r) {
			return "constrains " + m.Raw() + " but " + r.String() + " is already chosen"
		}
	}
	return ""
}

func (s *Solver) parseRecord(r *repodata.Record) ([]*matchspec.MatchSpec, []*matchspec.MatchSpec, error) {
	depends := make([]*matchspec.MatchSpec, 0, len(r.Depends))
	for _, d := range r.Depends {
		m, err := s.parse(d)
		if err != nil {
			return nil, nil, err
		}
		depends = append(depends, m)
	}
	constrains := make([]*matchspec.MatchSpec, 0, len(r.Constrains))
	for _, d := range r.Constrains {
		m, err := s.parse(d)
		if err != nil {
			return nil, nil, err
		}
		constrains = append(constrains, m)
	}
	return depends, constrains, nil
}

func (s *Solver) virtualSatisfies(m *matchspec.MatchSpec) bool {
	v, ok := s.virtual[m.Name]
	if !ok {
		return false
	}
	return m.Match(m.Name, v.version, v.build, 0)
}

func (s *Solver) describeVirtual(name string) string {
	v, ok := s.virtual[name]
	if !ok {
		return "no " + name + " on this platform"
	}
	return name + "=" + v.version.String()
}

func matches(m *matchspec.MatchSpec, r *repodata.Record) bool {
	if m.Subdir != "" && m.Subdir != r.Subdir {
		return false
	}
	v, err := r.ParsedVersion()
	if err != nil {
		return false
	}
	return m.Match(r.Name, v, r.Build, r.BuildNumber)
}

// sortCandidates orders records from most to least preferred.
func sortCandidates(records []*repodata.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if fa, fb := len(a.Features()), len(b.Features()); fa != fb {
			return fa < fb
		}
		va, _ := a.ParsedVersion()
		vb, _ := b.ParsedVersion()
		if c := va.Compare(vb); c != 0 {
			return c > 0
		}
		if a.BuildNumber != b.BuildNumber {
			return a.BuildNumber > b.BuildNumber
		}
		if a.IsConda() != b.IsConda() {
			return a.IsConda()
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp > b.Timestamp
		}
		return strings.Compare(a.Filename, b.Filename) < 0
	})
}
