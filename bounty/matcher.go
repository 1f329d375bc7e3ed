package bounty

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// closes #12, Fixes: #3, resolved owner/repo#7
	closingRef = regexp.MustCompile(`(?i)\b(?:close[sd]?|fix(?:e[sd])?|resolve[sd]?)\b:?\s+([\w.-]+/[\w.-]+)?#(\d+)\b`)
	// #12 or owner/repo#12 not glued to a preceding word or entity
	mentionRef = regexp.MustCompile(`(?:^|[^\w/&#])([\w.-]+/[\w.-]+)?#(\d+)\b`)
)

// MatchResult is what a pull request claims among a repository's open bounties.
type MatchResult struct {
	// Bounties are the matched open bounties in the order they were given.
	Bounties []Bounty
	// Fallback is set when the single open bounty was chosen without a reference.
	Fallback bool
	// Suggest is set when nothing matched and several bounties are open.
	Suggest bool
	// Referenced lists every same-repository issue number found, in first-seen order.
	Referenced []int
}

// Match decides which of the open bounties a pull request resolves. Closing
// keywords are read from the body, plain mentions from title and body. With
// no match, a lone open bounty is taken as the target, while several open
// bounties produce a suggestion instead of a claim.
func Match(title, body, repoFullName string, open []Bounty) MatchResult {
	var res MatchResult
	seen := map[int]bool{}
	add := func(n int) {
		if !seen[n] {
			seen[n] = true
			res.Referenced = append(res.Referenced, n)
		}
	}
	for _, n := range extractRefs(closingRef, body, repoFullName) {
		add(n)
	}
	for _, n := range extractRefs(mentionRef, title+"\n"+body, repoFullName) {
		add(n)
	}

	for _, b := range open {
		if seen[b.IssueNumber] {
			res.Bounties = append(res.Bounties, b)
		}
	}
	if len(res.Bounties) > 0 {
		return res
	}
	switch {
	case len(open) == 1:
		res.Bounties = []Bounty{open[0]}
		res.Fallback = true
	case len(open) > 1:
		res.Suggest = true
	}
	return res
}

func extractRefs(re *regexp.Regexp, text, repoFullName string) []int {
	var out []int
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if m[1] != "" && !strings.EqualFold(m[1], repoFullName) {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil || n <= 0 {
			continue
		}
		out = append(out, n)
	}
	return out
}
