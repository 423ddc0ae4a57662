// Package intent classifies a user utterance as a follow-up to the previous
// assistant turn. Classification is keyword and pattern based so that the
// state transitions it gates stay deterministic and auditable.
package intent

import (
	"regexp"
	"strings"
	"unicode"
)

// Tag is the follow-up category of an utterance.
type Tag string

const (
	TagAffirmative Tag = "affirmative"
	TagQuestion    Tag = "question"
	TagElaboration Tag = "elaboration"
	TagNone        Tag = "none"
)

// Mention is a candidate named in an assistant turn.
type Mention struct {
	ID   string
	Name string
}

// Turn is the prior assistant message an utterance is classified against.
type Turn struct {
	Content       string
	ReferencedIDs []string
	// Mentions maps referenced IDs to display names, in the order they were
	// presented. Used to resolve entities in questions.
	Mentions []Mention
}

// Result is the outcome of Classify.
type Result struct {
	IsFollowUp    bool
	Tag           Tag
	ReferencedIDs []string
	// Entity is the name extracted from a question, normalised.
	Entity string
}

var affirmatives = map[string]bool{
	"y":               true,
	"yes":             true,
	"yeah":            true,
	"yea":             true,
	"yep":             true,
	"yup":             true,
	"sure":            true,
	"ok":              true,
	"okay":            true,
	"alright":         true,
	"all right":       true,
	"do it":           true,
	"go ahead":        true,
	"go for it":       true,
	"please":          true,
	"please do":       true,
	"yes please":      true,
	"yes do it":       true,
	"yes go ahead":    true,
	"sounds good":     true,
	"proceed":         true,
	"absolutely":      true,
	"definitely":      true,
	"of course":       true,
	"confirm":         true,
	"lets do it":      true,
	"create them":     true,
	"yes create them": true,
}

var elaborationPhrases = []string{
	"tell me more",
	"more details",
	"more detail",
	"what else",
	"explain",
	"elaborate",
	"go on",
	"more info",
}

var questionRe = regexp.MustCompile(`\b(?:who is|whos|tell me (?:more )?about|what about|how about)\s+(.+)$`)

var entityFillers = map[string]bool{
	"the": true, "applicant": true, "student": true, "candidate": true, "that": true, "this": true,
}

// pronouns point back at the prior turn's candidates rather than naming one.
var pronouns = map[string]bool{
	"them": true, "they": true, "these": true, "those": true, "him": true, "her": true, "it": true, "both": true,
}

// pronounCompanions may accompany a pronoun without naming anyone.
var pronounCompanions = map[string]bool{
	"all": true, "of": true, "applicants": true, "students": true, "candidates": true,
	"ones": true, "people": true, "two": true, "three": true,
}

// Classify tags utterance relative to the prior assistant turn. Precedence
// is affirmative, then question, then elaboration, then none. A nil prior
// turn never yields a follow-up.
func Classify(utterance string, prior *Turn) Result {
	if prior == nil {
		return Result{Tag: TagNone}
	}
	norm := Normalize(utterance)
	if norm == "" {
		return Result{Tag: TagNone}
	}

	if affirmatives[norm] {
		return Result{IsFollowUp: true, Tag: TagAffirmative, ReferencedIDs: copyIDs(prior.ReferencedIDs)}
	}

	if m := questionRe.FindStringSubmatch(norm); m != nil {
		entity := cleanEntity(m[1])
		if isPronounRef(entity) {
			return Result{IsFollowUp: true, Tag: TagElaboration, ReferencedIDs: copyIDs(prior.ReferencedIDs)}
		}
		if entity != "" {
			return Result{
				IsFollowUp:    true,
				Tag:           TagQuestion,
				ReferencedIDs: Resolve(entity, prior.Mentions),
				Entity:        entity,
			}
		}
	}

	for _, phrase := range elaborationPhrases {
		if containsPhrase(norm, phrase) {
			return Result{IsFollowUp: true, Tag: TagElaboration, ReferencedIDs: copyIDs(prior.ReferencedIDs)}
		}
	}

	return Result{Tag: TagNone}
}

// Normalize lowercases s, strips punctuation and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Resolve matches an entity against mentions by full name, substring, or a
// shared name token. Matches keep the mention order.
func Resolve(entity string, mentions []Mention) []string {
	entity = Normalize(entity)
	if entity == "" {
		return nil
	}
	entityTokens := strings.Fields(entity)
	var ids []string
	for _, m := range mentions {
		name := Normalize(m.Name)
		if name == "" {
			continue
		}
		if name == entity || strings.Contains(name, entity) || strings.Contains(entity, name) || sharesToken(entityTokens, strings.Fields(name)) {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func sharesToken(a, b []string) bool {
	for _, x := range a {
		if len(x) < 3 {
			continue
		}
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func cleanEntity(s string) string {
	words := strings.Fields(s)
	for len(words) > 0 && entityFillers[words[0]] {
		words = words[1:]
	}
	return strings.Join(words, " ")
}

// isPronounRef reports whether entity only refers back to earlier
// candidates, as in "them" or "these applicants".
func isPronounRef(entity string) bool {
	found := false
	for _, w := range strings.Fields(entity) {
		switch {
		case pronouns[w]:
			found = true
		case pronounCompanions[w]:
		default:
			return false
		}
	}
	return found
}

// containsPhrase reports whether phrase occurs in s on word boundaries.
func containsPhrase(s, phrase string) bool {
	return strings.Contains(" "+s+" ", " "+phrase+" ")
}

func copyIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
