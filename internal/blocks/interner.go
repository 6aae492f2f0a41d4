package blocks

import "sync"

// Interner deduplicates identifier strings so that trips sharing a route,
// service or shape share one backing string.
type Interner struct {
	mu      sync.Mutex
	strings map[string]string
}

func NewInterner() *Interner {
	return &Interner{strings: make(map[string]string)}
}

func (in *Interner) Intern(s string) string {
	if s == "" {
		return s
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if existing, ok := in.strings[s]; ok {
		return existing
	}
	in.strings[s] = s
	return s
}

// Len reports how many distinct strings have been interned.
func (in *Interner) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.strings)
}
