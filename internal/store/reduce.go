package store

import "fmt"

// Action is a state transition request understood by [Reduce].
type Action interface {
	action()
}

// Seeded replaces the list without touching progress flags or the error.
// Used to install an initial list.
type Seeded struct{ Items []Item }

// Started marks an operation in progress and clears the error.
type Started struct{ Op Op }

// Replaced ends a successful load or refresh with a fresh list.
type Replaced struct {
	Op    Op
	Items []Item
}

// Added ends a successful add.
type Added struct{ Item Item }

// Removed ends a successful remove. Unknown IDs are a no-op.
type Removed struct{ ID string }

// Updated ends a successful update. Unknown IDs are a no-op.
type Updated struct{ Item Item }

// Failed ends an operation with a simulated failure. The list is untouched.
type Failed struct {
	Op      Op
	Message string
}

// Cancelled ends an operation abandoned by its caller. The list is untouched
// and no error is recorded.
type Cancelled struct{ Op Op }

// Rejected ends an operation whose commit was refused (e.g. a duplicate ID).
// The list is untouched and no error is recorded.
type Rejected struct{ Op Op }

// DismissError clears the error message.
type DismissError struct{}

func (Seeded) action()       {}
func (Started) action()      {}
func (Replaced) action()     {}
func (Added) action()        {}
func (Removed) action()      {}
func (Updated) action()      {}
func (Failed) action()       {}
func (Cancelled) action()    {}
func (Rejected) action()     {}
func (DismissError) action() {}

// Reduce computes the state that follows s after a.
//
// Reduce is pure: s is never modified and the returned state shares no
// mutable memory with s. When a mutation would break ID uniqueness, Reduce
// returns s unchanged together with an error wrapping [ErrDuplicateID].
func Reduce(s State, a Action) (State, error) {
	next := s.Clone()

	switch a := a.(type) {
	case Seeded:
		if err := checkUnique(a.Items); err != nil {
			return s, err
		}
		next.Items = copyItems(a.Items)

	case Started:
		next.Error = nil
		next.begin(a.Op)

	case Replaced:
		if err := checkUnique(a.Items); err != nil {
			return s, err
		}
		next.Items = copyItems(a.Items)
		next.end(a.Op)

	case Added:
		if _, exists := s.Find(a.Item.ID); exists {
			return s, fmt.Errorf("%w: %q", ErrDuplicateID, a.Item.ID)
		}
		next.Items = append(next.Items, a.Item)
		next.end(OpAdd)

	case Removed:
		kept := make([]Item, 0, len(next.Items))
		for _, it := range next.Items {
			if it.ID != a.ID {
				kept = append(kept, it)
			}
		}
		next.Items = kept
		next.end(OpRemove)

	case Updated:
		for i := range next.Items {
			if next.Items[i].ID == a.Item.ID {
				next.Items[i] = a.Item
				break
			}
		}
		next.end(OpUpdate)

	case Failed:
		msg := a.Message
		next.Error = &msg
		next.end(a.Op)

	case Cancelled:
		next.end(a.Op)

	case Rejected:
		next.end(a.Op)

	case DismissError:
		next.Error = nil

	default:
		return s, fmt.Errorf("unknown action %T", a)
	}

	next.Version = s.Version + 1
	return next, nil
}

// begin increments the in-flight count for op's progress flag.
func (s *State) begin(op Op) {
	if op == OpRefresh {
		s.refreshing++
	} else {
		s.loading++
	}
	s.syncFlags()
}

// end decrements the in-flight count for op's progress flag. Ending an
// operation that never started leaves the count at zero.
func (s *State) end(op Op) {
	if op == OpRefresh {
		if s.refreshing > 0 {
			s.refreshing--
		}
	} else if s.loading > 0 {
		s.loading--
	}
	s.syncFlags()
}

func (s *State) syncFlags() {
	s.IsLoading = s.loading > 0
	s.IsRefreshing = s.refreshing > 0
}

func checkUnique(items []Item) error {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateID, it.ID)
		}
		seen[it.ID] = struct{}{}
	}
	return nil
}
