package tasks

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// reportSet records which (source, error) pairs have already been logged.
// It is bounded, so a long-evicted failure may be logged again.
type reportSet struct {
	seen *lru.Cache[string, struct{}]
}

func newReportSet(size int) (*reportSet, error) {
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &reportSet{seen: seen}, nil
}

// first reports whether err has not yet been seen for source, marking it
// seen. A nil set treats every failure as new.
func (r *reportSet) first(source string, err error) bool {
	if r == nil {
		return true
	}
	key := source + "\x00"
	if err != nil {
		key += err.Error()
	}
	found, _ := r.seen.ContainsOrAdd(key, struct{}{})
	return !found
}
