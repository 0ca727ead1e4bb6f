package resolve

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/driftpatch/driftpatch/internal/archive"
	engerrors "github.com/driftpatch/driftpatch/internal/errors"
)

// DefaultCandidates scopes a role without candidate globs
var DefaultCandidates = []string{"**/*.js"}

// Options configures a Resolver
type Options struct {
	Workers   int
	CacheSize int
	Logger    *zap.Logger
}

// Resolver binds roles to artifacts and symbols to local names
type Resolver struct {
	workers int
	cache   *contentCache
	logger  *zap.Logger
}

// New creates a Resolver
func New(opts Options) *Resolver {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		workers: workers,
		cache:   newContentCache(opts.CacheSize),
		logger:  logger,
	}
}

// state is the shared, growing result of a run
type state struct {
	mu     sync.RWMutex
	result *Result
}

func (s *state) get(role string) (*ResolvedArtifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.result.Roles[role]
	return a, ok
}

func (s *state) put(a *ResolvedArtifact, errs []engerrors.EngineError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a != nil {
		s.result.Roles[a.Role] = a
	}
	s.result.Errors = append(s.result.Errors, errs...)
}

// Resolve binds every role it can. Resolution failures are collected in
// the result and never stop other roles; the returned error is reserved
// for cancellation and unreadable containers.
func (r *Resolver) Resolve(ctx context.Context, tree *archive.Tree, roles []Role) (*Result, error) {
	st := &state{result: NewResult()}

	layers, errs := layer(roles)
	st.put(nil, errs)

	for _, l := range layers {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.workers)
		for _, role := range l {
			g.Go(func() error {
				art, errs, err := r.resolveRole(gctx, tree, role, st)
				if err != nil {
					return err
				}
				st.put(art, errs)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return st.result, err
		}
	}

	sort.SliceStable(st.result.Errors, func(i, j int) bool {
		a, b := st.result.Errors[i], st.result.Errors[j]
		if a.Location.Role != b.Location.Role {
			return a.Location.Role < b.Location.Role
		}
		return a.Code < b.Code
	})
	r.logger.Info("resolution finished", zap.Int("resolved", len(st.result.Roles)), zap.Int("roles", len(roles)), zap.Int("errors", len(st.result.Errors)))
	return st.result, nil
}

type candidate struct {
	node    *archive.Node
	content string
	score   int
}

func (r *Resolver) resolveRole(ctx context.Context, tree *archive.Tree, role Role, st *state) (*ResolvedArtifact, []engerrors.EngineError, error) {
	loc := engerrors.Location{Role: role.ID}
	severity := engerrors.Warning
	if role.Required {
		severity = engerrors.Error
	}

	var missing []string
	for _, dep := range role.Dependencies() {
		if _, ok := st.get(dep); !ok {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return nil, []engerrors.EngineError{engerrors.New("resolve", engerrors.ErrDependencyUnresolved,
			fmt.Sprintf("depends on unresolved role(s) %s", strings.Join(missing, ", ")), severity).At(loc)}, nil
	}

	var (
		winner *candidate
		art    *ResolvedArtifact
		err    error
	)
	if role.Path != "" {
		winner, art, err = r.resolveDeclared(tree, role)
	} else {
		winner, art, err = r.resolveByEvidence(ctx, tree, role, st)
	}
	if err != nil {
		if e, ok := err.(engerrors.EngineError); ok {
			return nil, []engerrors.EngineError{e.WithSeverity(severity).At(loc).WithDefaultSuggestion()}, nil
		}
		return nil, nil, err
	}

	aliases, errs := r.resolveSymbols(ctx, tree, role, art, winner.content, st)
	art.Aliases = aliases

	r.logger.Debug("role resolved",
		zap.String("role", role.ID),
		zap.String("path", art.Path),
		zap.String("method", string(art.Method)),
		zap.Stringer("confidence", art.Confidence))
	return art, errs, nil
}

func (r *Resolver) resolveDeclared(tree *archive.Tree, role Role) (*candidate, *ResolvedArtifact, error) {
	n, ok := tree.Lookup(role.Path)
	if !ok {
		return nil, nil, engerrors.New("resolve", engerrors.ErrRoleUnresolved,
			fmt.Sprintf("declared path %s is not in the build", role.Path), engerrors.Error)
	}
	content, err := r.cache.get(n)
	if err != nil {
		return nil, nil, err
	}
	c := &candidate{node: n, content: content, score: score(content, role.Signatures)}
	conf := Certain
	if c.score < len(role.Signatures) {
		conf = Probable
	}
	return c, &ResolvedArtifact{
		Role:       role.ID,
		Path:       n.Rel(),
		Storage:    n.Storage,
		Method:     MethodDeclaredPath,
		Confidence: conf,
	}, nil
}

func (r *Resolver) scan(ctx context.Context, tree *archive.Tree, role Role) ([]*candidate, error) {
	globs := role.Candidates
	if len(globs) == 0 {
		globs = DefaultCandidates
	}
	nodes := tree.Glob(globs...)
	cands := make([]*candidate, len(nodes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, n := range nodes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := r.cache.get(n)
			if err != nil {
				r.logger.Warn("skipping unreadable candidate", zap.String("role", role.ID), zap.String("path", n.Rel()), zap.Error(err))
				return nil
			}
			cands[i] = &candidate{node: n, content: content, score: score(content, role.Signatures)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := cands[:0]
	for _, c := range cands {
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// step is one elimination technique
type step struct {
	method Method
	accept func(*candidate) (bool, string)
}

func (r *Resolver) steps(tree *archive.Tree, role Role, st *state) []step {
	var steps []step
	if len(role.Imports) > 0 {
		steps = append(steps, step{method: MethodImportGraph, accept: func(c *candidate) (bool, string) {
			for _, dep := range role.Imports {
				d, _ := st.get(dep)
				if !importsArtifact(c.node.Rel(), c.content, d.Path) {
					return false, fmt.Sprintf("does not import %s (%s)", dep, d.Path)
				}
			}
			return true, "imports " + strings.Join(role.Imports, ", ")
		}})
	}
	if len(role.Usage) > 0 {
		steps = append(steps, step{method: MethodUsageContext, accept: func(c *candidate) (bool, string) {
			for _, p := range role.Usage {
				if !propertyPattern(p).MatchString(c.content) {
					return false, fmt.Sprintf("never uses %q", p)
				}
			}
			return true, "uses " + strings.Join(role.Usage, ", ")
		}})
	}
	if role.Counterpart != nil {
		cp, _ := st.get(role.Counterpart.Role)
		via, _ := st.get(role.Counterpart.Via)
		want := r.counterpartNames(tree, cp, via)
		steps = append(steps, step{method: MethodCrossArtifact, accept: func(c *candidate) (bool, string) {
			if len(want) == 0 {
				return false, "counterpart imports nothing from " + role.Counterpart.Via
			}
			have := importedNames(c.node.Rel(), c.content, via.Path)
			for name := range want {
				if _, ok := have[name]; !ok {
					return false, fmt.Sprintf("does not import %q from %s", name, role.Counterpart.Via)
				}
			}
			return true, fmt.Sprintf("imports the same %d name(s) from %s as %s", len(want), role.Counterpart.Via, role.Counterpart.Role)
		}})
	}
	return steps
}

// counterpartNames returns export name to local name for what cp imports
// from via
func (r *Resolver) counterpartNames(tree *archive.Tree, cp, via *ResolvedArtifact) map[string]string {
	if cp == nil || via == nil {
		return nil
	}
	n, ok := tree.Lookup(cp.Path)
	if !ok {
		return nil
	}
	content, err := r.cache.get(n)
	if err != nil {
		return nil
	}
	return importedNames(cp.Path, content, via.Path)
}

func (r *Resolver) resolveByEvidence(ctx context.Context, tree *archive.Tree, role Role, st *state) (*candidate, *ResolvedArtifact, error) {
	cands, err := r.scan(ctx, tree, role)
	if err != nil {
		return nil, nil, err
	}

	total := len(role.Signatures)
	var full []*candidate
	best := 0
	for _, c := range cands {
		if total > 0 && c.score == total {
			full = append(full, c)
		}
		best = max(best, c.score)
	}

	steps := r.steps(tree, role, st)
	var (
		winner *candidate
		method Method
	)

	pool := full
	if len(full) == 1 {
		winner, method = full[0], MethodStringAnchor
	} else if len(pool) == 0 {
		switch {
		case total == 0:
			pool = cands
		case best > 0:
			for _, c := range cands {
				if c.score == best {
					pool = append(pool, c)
				}
			}
		}
	}

	if winner == nil && len(pool) > 0 {
		for _, s := range steps {
			var narrowed []*candidate
			for _, c := range pool {
				if ok, _ := s.accept(c); ok {
					narrowed = append(narrowed, c)
				}
			}
			if len(narrowed) == 1 {
				winner, method = narrowed[0], s.method
				break
			}
			if len(narrowed) > 1 {
				pool = narrowed
			}
		}
		if winner == nil && len(pool) == 1 {
			winner, method = pool[0], MethodStringAnchor
		}
	}

	if winner == nil {
		if len(pool) == 0 {
			return nil, nil, engerrors.New("resolve", engerrors.ErrRoleUnresolved,
				fmt.Sprintf("none of %d candidate(s) match the role signatures", len(cands)), engerrors.Error)
		}
		paths := make([]string, len(pool))
		for i, c := range pool {
			paths[i] = c.node.Rel()
		}
		return nil, nil, engerrors.New("resolve", engerrors.ErrRoleAmbiguous,
			fmt.Sprintf("%d candidates remain after every method", len(pool)), engerrors.Error).
			WithSuggestion(engerrors.Suggestion{
				Description: "add a signature or an import dependency that tells these apart",
				Candidates:  paths,
			})
	}

	fullMatch := total > 0 && winner.score == total
	art := &ResolvedArtifact{
		Role:    role.ID,
		Path:    winner.node.Rel(),
		Storage: winner.node.Storage,
		Method:  method,
	}

	switch method {
	case MethodStringAnchor:
		art.Confidence = Unconfirmed
		if fullMatch {
			art.Confidence = Certain
		}
	case MethodImportGraph:
		art.Confidence = Probable
		if fullMatch && depsCertain(role.Imports, st) {
			art.Confidence = Certain
		}
	default:
		art.Confidence = Probable
	}

	if method != MethodStringAnchor && total > 0 {
		art.Evidence = append(art.Evidence, Evidence{
			Method: MethodStringAnchor,
			Agrees: fullMatch,
			Detail: fmt.Sprintf("%d/%d signatures", winner.score, total),
		})
	}
	for _, s := range steps {
		if s.method == method {
			continue
		}
		ok, detail := s.accept(winner)
		art.Evidence = append(art.Evidence, Evidence{Method: s.method, Agrees: ok, Detail: detail})
		if !ok {
			r.logger.Warn("resolution methods disagree",
				zap.String("role", role.ID), zap.String("path", art.Path),
				zap.String("method", string(s.method)), zap.String("detail", detail))
		}
	}

	return winner, art, nil
}

func depsCertain(ids []string, st *state) bool {
	for _, id := range ids {
		d, ok := st.get(id)
		if !ok || d.Confidence != Certain {
			return false
		}
	}
	return true
}
