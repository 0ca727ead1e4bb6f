package resolve

import (
	"fmt"
	"sort"
	"strings"

	engerrors "github.com/driftpatch/driftpatch/internal/errors"
)

// layer orders roles so that every role comes after the roles it depends
// on. Roles in the same layer are independent of each other. Roles that
// reference unknown roles or sit on a dependency cycle are reported and
// left out.
func layer(roles []Role) ([][]Role, []engerrors.EngineError) {
	byID := make(map[string]Role, len(roles))
	ids := make([]string, 0, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
		ids = append(ids, r.ID)
	}
	sort.Strings(ids)

	var errs []engerrors.EngineError
	pending := make(map[string][]string, len(roles))
	for _, id := range ids {
		deps := byID[id].Dependencies()
		for _, d := range deps {
			if _, ok := byID[d]; !ok {
				errs = append(errs, engerrors.UnknownName("resolve", engerrors.ErrUnknownRole, "role", d, ids).
					At(engerrors.Location{Role: id}))
			}
		}
		pending[id] = deps
	}

	var layers [][]Role
	done := make(map[string]bool, len(roles))
	for len(pending) > 0 {
		var ready []string
		for _, id := range ids {
			deps, ok := pending[id]
			if !ok {
				continue
			}
			satisfied := true
			for _, d := range deps {
				if !done[d] {
					satisfied = false
					break
				}
			}
			if satisfied {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			break
		}
		l := make([]Role, 0, len(ready))
		for _, id := range ready {
			l = append(l, byID[id])
			delete(pending, id)
		}
		for _, id := range ready {
			done[id] = true
		}
		layers = append(layers, l)
	}

	stuck := make([]string, 0, len(pending))
	for id := range pending {
		stuck = append(stuck, id)
	}
	sort.Strings(stuck)
	for _, id := range stuck {
		var missing []string
		for _, d := range pending[id] {
			if !done[d] {
				missing = append(missing, d)
			}
		}
		errs = append(errs, engerrors.New("resolve", engerrors.ErrDependencyUnresolved,
			fmt.Sprintf("depends on %s, which cannot be resolved first", strings.Join(missing, ", ")), engerrors.Error).
			At(engerrors.Location{Role: id}))
	}

	return layers, errs
}
