package postgres

import (
	"strconv"
	"strings"

	"github.com/spei-ledger/internal/domain/transaction"
)

// predicates accumulates AND-ed WHERE clauses with positional arguments.
type predicates struct {
	clauses []string
	args    []any
}

func (p *predicates) bind(v any) string {
	p.args = append(p.args, v)
	return "$" + strconv.Itoa(len(p.args))
}

func (p *predicates) eq(column string, v any) {
	p.clauses = append(p.clauses, column+" = "+p.bind(v))
}

func (p *predicates) in(column string, values []string) {
	p.clauses = append(p.clauses, column+" = ANY("+p.bind(values)+")")
}

func (p *predicates) gte(column string, v any) {
	p.clauses = append(p.clauses, column+" >= "+p.bind(v))
}

func (p *predicates) lte(column string, v any) {
	p.clauses = append(p.clauses, column+" <= "+p.bind(v))
}

// ilikeAny matches term as a substring of any of the columns.
func (p *predicates) ilikeAny(columns []string, term string) {
	placeholder := p.bind("%" + escapeLike(term) + "%")
	parts := make([]string, len(columns))
	for i, column := range columns {
		parts[i] = column + " ILIKE " + placeholder
	}
	p.clauses = append(p.clauses, "("+strings.Join(parts, " OR ")+")")
}

func (p *predicates) where() string {
	if len(p.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(p.clauses, " AND ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var searchColumns = []string{"tracking_key", "concept", "beneficiary_name", "payer_name", "beneficiary_account", "payer_account"}

// transactionPredicates translates a query filter into predicates.
func transactionPredicates(f transaction.Filter) *predicates {
	p := &predicates{}
	if f.Type != nil {
		p.eq("type", string(*f.Type))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		p.in("status", statuses)
	}
	if f.ClabeAccountID != nil {
		p.eq("clabe_account_id", *f.ClabeAccountID)
	}
	if f.CompanyID != nil {
		p.eq("company_id", *f.CompanyID)
	}
	if f.From != nil {
		p.gte("created_at", *f.From)
	}
	if f.To != nil {
		p.lte("created_at", *f.To)
	}
	if f.MinAmount != nil {
		p.gte("amount", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		p.lte("amount", *f.MaxAmount)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		p.ilikeAny(searchColumns, term)
	}
	return p
}
