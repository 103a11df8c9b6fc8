package rhash

import (
	"sort"
	"strings"

	"github.com/4store-go/storekit/internal/wire"
)

// prefixTable is the in-memory mirror of the registered URI prefixes, a
// byte code per prefix drawn from the same list every resource-hash
// handle shares via its prefix dictionary list.
type prefixTable struct {
	byCodeMap map[byte]string
}

func newPrefixTable() *prefixTable {
	return &prefixTable{byCodeMap: make(map[byte]string)}
}

func (t *prefixTable) byCode(code byte) (string, bool) {
	p, ok := t.byCodeMap[code]
	return p, ok
}

// longestMatch returns the registered prefix of greatest length that
// lex starts with. Linear scan is acceptable: registered prefixes are
// bounded to 256.
func (t *prefixTable) longestMatch(lex string) (code byte, plen int, ok bool) {
	bestLen := -1
	var bestCode byte
	for c, p := range t.byCodeMap {
		if len(p) > bestLen && strings.HasPrefix(lex, p) {
			bestLen = len(p)
			bestCode = c
		}
	}
	if bestLen < 0 {
		return 0, 0, false
	}
	return bestCode, bestLen, true
}

func (t *prefixTable) register(code byte, prefix string) {
	t.byCodeMap[code] = prefix
}

func (t *prefixTable) full() bool { return len(t.byCodeMap) >= maxPrefixes }

func encodePrefixRecord(code uint32, prefix string) []byte {
	buf := make([]byte, prefixListWidth)
	wire.PutU32(buf, 0, code)
	n := copy(buf[4:prefixListWidth-1], prefix)
	_ = n // remaining bytes, including the NUL terminator, are left zero
	return buf
}

func decodePrefixRecord(buf []byte) (uint32, string) {
	code := wire.ReadU32(buf, 0)
	return code, trimNUL(buf[4:prefixListWidth])
}

// prefixLearner is the online candidate-prefix counter fed every
// lexical that overflows to the lex file. It buckets by the URI segment
// up to the last '/' or '#',
// the conventional namespace/local-name split point, and is capped so
// a pathological stream of unique lexicals can't grow it unbounded.
type prefixLearner struct {
	counts map[string]int
}

const (
	// learnerCap bounds the candidate map itself, so a stream of
	// unique lexicals that never repeat a prefix can't grow it without
	// bound.
	learnerCap = 4096
	// learnerThreshold is the per-candidate observation count that
	// triggers registration. A workload dominated by one shared prefix
	// hits this long before the map could ever reach learnerCap.
	learnerThreshold = 8
)

func newPrefixLearner() *prefixLearner {
	return &prefixLearner{counts: make(map[string]int)}
}

func candidatePrefix(lex string) (string, bool) {
	cut := strings.LastIndexAny(lex, "/#")
	if cut <= 0 {
		return "", false
	}
	return lex[:cut+1], true
}

// observe records lex's candidate prefix and reports whether the
// learner should be folded into the prefix dictionary now: either a
// single candidate has crossed learnerThreshold observations, or the
// map has grown to learnerCap distinct candidates.
func (l *prefixLearner) observe(lex string) bool {
	cand, ok := candidatePrefix(lex)
	if !ok {
		return false
	}
	l.counts[cand]++
	if l.counts[cand] >= learnerThreshold {
		return true
	}
	return len(l.counts) >= learnerCap
}

// topCandidates returns up to n candidate prefixes ordered by
// descending observation count.
func (l *prefixLearner) topCandidates(n int) []string {
	type kv struct {
		prefix string
		count  int
	}
	kvs := make([]kv, 0, len(l.counts))
	for p, c := range l.counts {
		kvs = append(kvs, kv{p, c})
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].count != kvs[j].count {
			return kvs[i].count > kvs[j].count
		}
		return kvs[i].prefix < kvs[j].prefix
	})
	if len(kvs) > n {
		kvs = kvs[:n]
	}
	out := make([]string, len(kvs))
	for i, e := range kvs {
		out[i] = e.prefix
	}
	return out
}

func (l *prefixLearner) reset() {
	l.counts = make(map[string]int)
}
