package auth

import (
	"strings"

	"idgate.org/internal/criteria"
	"idgate.org/internal/identity"
)

const defaultSearchTake = 10

// AccountCriterion is a predicate over accounts.
type AccountCriterion = criteria.Criterion[*Account]

// UsernameEquals matches an account by username, ignoring case.
type UsernameEquals struct {
	Username string
}

func (s UsernameEquals) IsSatisfiedBy(a *Account) bool {
	return strings.EqualFold(a.Username.String(), strings.TrimSpace(s.Username))
}

// NameContains matches accounts whose first or last name contains Text, ignoring case.
type NameContains struct {
	Text string
}

func (s NameContains) IsSatisfiedBy(a *Account) bool {
	needle := strings.ToLower(strings.TrimSpace(s.Text))
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(a.FirstName.OrElse("")), needle) ||
		strings.Contains(strings.ToLower(a.LastName.OrElse("")), needle)
}

// SearchCriterion builds the account filter for free text terms. No terms
// matches everything; otherwise each term adds an alternative, as a username
// match when it parses as an email and as a name match when it does not.
func SearchCriterion(terms []string) AccountCriterion {
	words := splitTerms(terms)
	if len(words) == 0 {
		return criteria.All[*Account]()
	}
	c := criteria.None[*Account]()
	for _, w := range words {
		if identity.ParseEmail(w).IsSuccess() {
			c = c.Or(criteria.Match[*Account](UsernameEquals{Username: w}))
			continue
		}
		c = c.Or(criteria.Match[*Account](NameContains{Text: w}))
	}
	return c
}

func splitTerms(terms []string) []string {
	var out []string
	for _, t := range terms {
		out = append(out, strings.Fields(t)...)
	}
	return out
}

// SortColumn names a sortable account attribute.
type SortColumn string

const (
	SortByID        SortColumn = "Id"
	SortByFirstName SortColumn = "FirstName"
	SortByLastName  SortColumn = "LastName"
	SortByUsername  SortColumn = "Username"
)

// ParseSortColumn resolves a column name case-insensitively, defaulting to Id.
func ParseSortColumn(name string) SortColumn {
	for _, c := range []SortColumn{SortByID, SortByFirstName, SortByLastName, SortByUsername} {
		if strings.EqualFold(strings.TrimSpace(name), string(c)) {
			return c
		}
	}
	return SortByID
}

// AccountQuery is a filtered, sorted page request understood by AccountStore.Search.
type AccountQuery struct {
	Filter    AccountCriterion
	Skip      int
	Take      int
	Sort      SortColumn
	Ascending bool
}

// AccountPage is one page of search results. Total counts every account,
// Filtered counts the accounts matching the filter.
type AccountPage struct {
	Items    []*Account
	Total    int
	Filtered int
}

// SearchRequest is the input of SearchAccounts.
type SearchRequest struct {
	Terms     []string
	Skip      int `validate:"gte=0"`
	Take      int `validate:"gte=0,lte=1000"`
	Sort      string
	Ascending bool
}
