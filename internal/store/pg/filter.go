package pg

import (
	"fmt"
	"strings"

	"idgate.org/internal/auth"
	"idgate.org/internal/criteria"
)

// whereClause renders an account filter as a SQL boolean expression with
// positional parameters starting after offset.
func whereClause(filter auth.AccountCriterion, offset int) (string, []any, error) {
	var args []any
	bind := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", offset+len(args))
	}
	expr, err := criteria.Walk(filter, criteria.Visitor[*auth.Account, string]{
		Always: func() (string, error) { return "true", nil },
		Never:  func() (string, error) { return "false", nil },
		And: func(l, r string) (string, error) {
			return "(" + l + " and " + r + ")", nil
		},
		Or: func(l, r string) (string, error) {
			return "(" + l + " or " + r + ")", nil
		},
		Not: func(inner string) (string, error) {
			return "(not " + inner + ")", nil
		},
		Leaf: func(leaf criteria.Leaf[*auth.Account]) (string, error) {
			switch l := leaf.(type) {
			case auth.UsernameEquals:
				return "normalized_username = " + bind(normalize(l.Username)), nil
			case auth.NameContains:
				p := bind("%" + escapeLike(strings.TrimSpace(l.Text)) + "%")
				return fmt.Sprintf("(coalesce(first_name, '') ilike %s or coalesce(last_name, '') ilike %s)", p, p), nil
			default:
				return "", fmt.Errorf("pg: account filter %T has no SQL form", leaf)
			}
		},
	})
	if err != nil {
		return "", nil, err
	}
	return expr, args, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var sortColumns = map[auth.SortColumn]string{
	auth.SortByID:        "id",
	auth.SortByFirstName: "lower(coalesce(first_name, ''))",
	auth.SortByLastName:  "lower(coalesce(last_name, ''))",
	auth.SortByUsername:  "normalized_username",
}

func orderBy(col auth.SortColumn, asc bool) string {
	expr, ok := sortColumns[col]
	if !ok {
		expr = "id"
	}
	dir := "desc"
	if asc {
		dir = "asc"
	}
	if expr == "id" {
		return "id " + dir
	}
	return expr + " " + dir + ", id " + dir
}
