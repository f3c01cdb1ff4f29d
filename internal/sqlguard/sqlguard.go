// Package sqlguard validates LLM-generated SQL before it touches the
// read-only store. It is the second line of defense behind the read replica:
// SELECT-only, single statement, and an enforced tenant predicate.
package sqlguard

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrNotSelect indicates the statement does not begin with SELECT.
	ErrNotSelect = errors.New("sqlguard: only SELECT statements are allowed")
	// ErrForbiddenKeyword indicates a mutation or control keyword.
	ErrForbiddenKeyword = errors.New("sqlguard: forbidden keyword")
	// ErrInjectionPattern indicates a known injection shape.
	ErrInjectionPattern = errors.New("sqlguard: injection pattern")
	// ErrMultiStatement indicates more than one statement.
	ErrMultiStatement = errors.New("sqlguard: multiple statements")
	// ErrMissingTenant indicates validation was called without a tenant id.
	ErrMissingTenant = errors.New("sqlguard: missing tenant id")
)

// forbiddenKeywords are rejected as whole words anywhere in the statement.
var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER",
	"TRUNCATE", "REPLACE", "MERGE", "UPSERT", "GRANT", "REVOKE",
	"EXEC", "EXECUTE", "CALL", "SET", "LOCK", "UNLOCK",
}

var keywordRes = func() []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(forbiddenKeywords))
	for i, kw := range forbiddenKeywords {
		res[i] = regexp.MustCompile(`(?i)\b` + kw + `\b`)
	}
	return res
}()

var injectionRes = []*regexp.Regexp{
	regexp.MustCompile(`--`),
	regexp.MustCompile(`/\*`),
	regexp.MustCompile(`(?i)\bUNION\s+ALL\s+SELECT\b`),
	regexp.MustCompile(`(?i)\bINTO\s+OUTFILE\b`),
	regexp.MustCompile(`(?i)\bINTO\s+DUMPFILE\b`),
	regexp.MustCompile(`(?i)\bLOAD_FILE\b`),
}

var (
	tenantPredicateRe = regexp.MustCompile(`(?i)\btenant_id\s*=\s*(\d+|\{tenant_id\})`)
	whereRe           = regexp.MustCompile(`(?i)\bWHERE\b`)
	clauseBoundaryRe  = regexp.MustCompile(`(?i)\b(GROUP\s+BY|ORDER\s+BY|HAVING|LIMIT)\b`)
)

// Validate checks and rewrites a candidate SELECT. On success it returns
// the statement with a guaranteed `tenant_id = <tenantID>` predicate and no
// trailing semicolon.
func Validate(sql string, tenantID int64) (string, error) {
	if tenantID == 0 {
		return "", ErrMissingTenant
	}

	stmt := strings.Join(strings.Fields(sql), " ")
	stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
	if stmt == "" {
		return "", ErrNotSelect
	}

	if !strings.HasPrefix(strings.ToUpper(stmt), "SELECT") {
		return "", fmt.Errorf("%w: got %q", ErrNotSelect, firstWord(stmt))
	}

	for i, re := range keywordRes {
		if re.MatchString(stmt) {
			return "", fmt.Errorf("%w: %s", ErrForbiddenKeyword, forbiddenKeywords[i])
		}
	}

	for _, re := range injectionRes {
		if re.MatchString(stmt) {
			return "", fmt.Errorf("%w: %s", ErrInjectionPattern, re.String())
		}
	}

	nonEmpty := 0
	for _, part := range strings.Split(stmt, ";") {
		if strings.TrimSpace(part) != "" {
			nonEmpty++
		}
	}
	if nonEmpty > 1 {
		return "", ErrMultiStatement
	}

	stmt = enforceTenantPredicate(stmt, tenantID)
	return stmt, nil
}

// enforceTenantPredicate guarantees a `tenant_id = <id>` predicate with the
// caller's id. An existing predicate is rewritten to the caller's value
// (placeholders included); otherwise one is injected — as the first conjunct
// of an existing WHERE, as a new WHERE before the first trailing clause, or
// appended.
func enforceTenantPredicate(stmt string, tenantID int64) string {
	predicate := "tenant_id = " + strconv.FormatInt(tenantID, 10)

	if tenantPredicateRe.MatchString(stmt) {
		return tenantPredicateRe.ReplaceAllString(stmt, predicate)
	}

	if loc := whereRe.FindStringIndex(stmt); loc != nil {
		return stmt[:loc[1]] + " " + predicate + " AND" + stmt[loc[1]:]
	}

	if loc := clauseBoundaryRe.FindStringIndex(stmt); loc != nil {
		return stmt[:loc[0]] + "WHERE " + predicate + " " + stmt[loc[0]:]
	}

	return stmt + " WHERE " + predicate
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i > 0 {
		return s[:i]
	}
	return s
}
