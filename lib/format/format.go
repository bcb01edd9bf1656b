/*package format handles meshsync's miniature formatting language for rank
selections, e.g.

   ExportRanks = "0..3 + 7"
   ExportRanks = "0..63 - 17 - 40..47"

A sequence is a series of tokens separated by "+" or "-". Each token is either
a natural number or two natural numbers separated by "..", which stands for
the inclusive range between them. Tokens after a "+" are added to the sequence
and tokens after a "-" are removed from it. A leading "+" may be dropped. All
spaces around "+" and "-" are ignored.
*/
package format

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// Any expanded sequence which would have more than BigNumber elements is
	// assumed to be a bug.
	BigNumber = 1 << 20
)

// ExpandSequence expands a sequence string into a sorted list of integers.
func ExpandSequence(format string) ([]int, error) {
	tok, err := tokenise(format)
	if err != nil {
		return nil, err
	}
	adds, subs, err := splitAddsSubs(tok)
	if err != nil {
		return nil, err
	}

	m := map[int]bool{}
	for _, t := range adds {
		for _, n := range expandToken(t) {
			if m[n] {
				return nil, fmt.Errorf("The number %d is added more than once.", n)
			}
			m[n] = true
			if len(m) > BigNumber {
				return nil, fmt.Errorf("The sequence '%s' has more than %d elements, which is almost certainly a bug.", format, BigNumber)
			}
		}
	}
	for _, t := range subs {
		for _, n := range expandToken(t) {
			if !m[n] {
				return nil, fmt.Errorf("The number %d is removed more times than it was added.", n)
			}
			delete(m, n)
		}
	}

	out := make([]int, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// Selection is a set of ranks picked out by a sequence string. The zero value
// selects everything.
type Selection struct {
	all     bool
	members map[int]bool
}

// NewSelection parses a sequence string. An empty (or all-space) string
// selects every rank.
func NewSelection(format string) (Selection, error) {
	if strings.TrimSpace(format) == "" {
		return Selection{all: true}, nil
	}
	seq, err := ExpandSequence(format)
	if err != nil {
		return Selection{}, err
	}
	sel := Selection{members: make(map[int]bool, len(seq))}
	for _, n := range seq {
		sel.members[n] = true
	}
	return sel, nil
}

// Contains returns true if n is part of the selection.
func (s Selection) Contains(n int) bool {
	if s.all || s.members == nil {
		return true
	}
	return s.members[n]
}

// tokenise splits a sequence string into number tokens and operators.
func tokenise(format string) ([]string, error) {
	clean := strings.ReplaceAll(format, "+", " + ")
	clean = strings.ReplaceAll(clean, "-", " - ")

	tok := strings.Fields(clean)
	if len(tok) == 0 {
		return nil, fmt.Errorf("The sequence string is empty.")
	}
	return tok, nil
}

// splitAddsSubs sorts tokens into ones which add to the sequence and ones
// which remove from it.
func splitAddsSubs(tok []string) (adds, subs []string, err error) {
	if len(tok) == 0 {
		return nil, nil, fmt.Errorf("The sequence string is empty.")
	}

	adds, subs = []string{}, []string{}
	start := 0
	if tok[0] != "+" && tok[0] != "-" {
		if err := checkToken(tok[0]); err != nil {
			return nil, nil, fmt.Errorf("Element number 1, '%s', cannot be parsed because %s", tok[0], err.Error())
		}
		adds = append(adds, tok[0])
		start = 1
	}

	for i := start; i < len(tok); i += 2 {
		if tok[i] != "-" && tok[i] != "+" {
			return nil, nil, fmt.Errorf("Element number %d, '%s', should be a '-' or '+', but isn't.", i+1, tok[i])
		}
		if i+1 >= len(tok) {
			return nil, nil, fmt.Errorf("The sequence string ends in a trailing '%s'.", tok[i])
		}
		if err := checkToken(tok[i+1]); err != nil {
			return nil, nil, fmt.Errorf("Element number %d, '%s', cannot be parsed because %s", i+2, tok[i+1], err.Error())
		}

		if tok[i] == "+" {
			adds = append(adds, tok[i+1])
		} else {
			subs = append(subs, tok[i+1])
		}
	}
	return adds, subs, nil
}

// checkToken returns nil if tok is a number or a range and an error
// describing the problem otherwise. The message reads as the end of a
// "because ..." sentence.
func checkToken(tok string) error {
	if len(tok) == 0 {
		return fmt.Errorf("it is empty.")
	}

	bounds := strings.Split(tok, "..")
	switch len(bounds) {
	case 1:
		if _, err := strconv.Atoi(bounds[0]); err != nil {
			return fmt.Errorf("'%s' is not an integer.", bounds[0])
		}
		return nil
	case 2:
		start, err := strconv.Atoi(bounds[0])
		if err != nil {
			return fmt.Errorf("'%s' is not an integer.", bounds[0])
		}
		end, err := strconv.Atoi(bounds[1])
		if err != nil {
			return fmt.Errorf("'%s' is not an integer.", bounds[1])
		}
		if end < start {
			return fmt.Errorf("lower bound %d is larger than upper bound %d.", start, end)
		}
		return nil
	}
	return fmt.Errorf("it has more than one '..'.")
}

// expandToken expands a token which has already passed checkToken.
func expandToken(tok string) []int {
	bounds := strings.Split(tok, "..")
	if len(bounds) == 1 {
		n, _ := strconv.Atoi(tok)
		return []int{n}
	}

	start, _ := strconv.Atoi(bounds[0])
	end, _ := strconv.Atoi(bounds[1])
	out := make([]int, 0, end-start+1)
	for n := start; n <= end; n++ {
		out = append(out, n)
	}
	return out
}
