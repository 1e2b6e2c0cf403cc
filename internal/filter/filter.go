package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"mailfinder/internal/models"
)

// ErrAttributeUnavailable is returned when a predicate needs an attribute that
// has not been fetched for the message yet.
var ErrAttributeUnavailable = errors.New("message attribute unavailable")

// Predicate decides whether a message matches. It must not modify the message.
type Predicate func(*models.Message) (bool, error)

// Attribute names a filterable message attribute.
type Attribute int

const (
	Subject Attribute = iota
)

func (a Attribute) String() string {
	switch a {
	case Subject:
		return "subject"
	default:
		return fmt.Sprintf("attribute(%d)", int(a))
	}
}

// ParseAttribute maps a name like "subject" to its Attribute.
func ParseAttribute(name string) (Attribute, error) {
	switch normalize(name) {
	case "subject":
		return Subject, nil
	}
	return 0, fmt.Errorf("unsupported filter attribute %q", name)
}

// Rule is a comparison between an attribute value and the expected value.
type Rule int

const (
	EqualTo Rule = iota
	NotEqualTo
	LessThan
	LessThanOrEqualTo
	GreaterThan
	GreaterThanOrEqualTo
	Contains
	DoesNotContain
	Matches
)

var ruleNames = map[string]Rule{
	"equal to":                 EqualTo,
	"=":                        EqualTo,
	"==":                       EqualTo,
	"not equal to":             NotEqualTo,
	"!=":                       NotEqualTo,
	"less than":                LessThan,
	"<":                        LessThan,
	"less than or equal to":    LessThanOrEqualTo,
	"<=":                       LessThanOrEqualTo,
	"greater than":             GreaterThan,
	">":                        GreaterThan,
	"greater than or equal to": GreaterThanOrEqualTo,
	">=":                       GreaterThanOrEqualTo,
	"contains":                 Contains,
	"does not contain":         DoesNotContain,
	"matches":                  Matches,
}

// ParseRule accepts rule names such as "equal to", "is equal to" or "=".
func ParseRule(name string) (Rule, error) {
	n := strings.TrimPrefix(normalize(name), "is ")
	if r, ok := ruleNames[n]; ok {
		return r, nil
	}
	return 0, fmt.Errorf("unsupported comparison rule %q", name)
}

func (r Rule) String() string {
	switch r {
	case EqualTo:
		return "equal to"
	case NotEqualTo:
		return "not equal to"
	case LessThan:
		return "less than"
	case LessThanOrEqualTo:
		return "less than or equal to"
	case GreaterThan:
		return "greater than"
	case GreaterThanOrEqualTo:
		return "greater than or equal to"
	case Contains:
		return "contains"
	case DoesNotContain:
		return "does not contain"
	case Matches:
		return "matches"
	default:
		return fmt.Sprintf("rule(%d)", int(r))
	}
}

// New builds the predicate for one attribute compared with value under rule.
func New(attr Attribute, rule Rule, value string) (Predicate, error) {
	compare, err := comparator(rule, value)
	if err != nil {
		return nil, err
	}

	switch attr {
	case Subject:
		return func(m *models.Message) (bool, error) {
			if !m.Has(models.MetadataFetched) {
				return false, fmt.Errorf("%w: subject of message %d", ErrAttributeUnavailable, m.SeqNum)
			}
			return compare(m.Subject), nil
		}, nil
	}
	return nil, fmt.Errorf("unsupported filter attribute %s", attr)
}

// All combines predicates with a short-circuiting AND. No predicates match every message.
func All(preds ...Predicate) Predicate {
	return func(m *models.Message) (bool, error) {
		for _, p := range preds {
			ok, err := p(m)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
}

// Search returns the messages that satisfy pred, in their original order.
func Search(msgs []*models.Message, pred Predicate) ([]*models.Message, error) {
	var matched []*models.Message
	for _, m := range msgs {
		ok, err := pred(m)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, m)
		}
	}
	return matched, nil
}

func comparator(rule Rule, expected string) (func(string) bool, error) {
	switch rule {
	case EqualTo:
		return func(v string) bool { return v == expected }, nil
	case NotEqualTo:
		return func(v string) bool { return v != expected }, nil
	case LessThan:
		return func(v string) bool { return v < expected }, nil
	case LessThanOrEqualTo:
		return func(v string) bool { return v <= expected }, nil
	case GreaterThan:
		return func(v string) bool { return v > expected }, nil
	case GreaterThanOrEqualTo:
		return func(v string) bool { return v >= expected }, nil
	case Contains:
		return func(v string) bool { return strings.Contains(v, expected) }, nil
	case DoesNotContain:
		return func(v string) bool { return !strings.Contains(v, expected) }, nil
	case Matches:
		re, err := regexp.Compile(expected)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", expected, err)
		}
		return re.MatchString, nil
	}
	return nil, fmt.Errorf("unsupported comparison rule %d", int(rule))
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
