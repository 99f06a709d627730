package db

// Statement is a query with its positional arguments. It is immutable once
// built.
type Statement struct {
	sql  string
	args []any
}

func NewStatement(sql string, args ...any) Statement {
	return Statement{
		sql:  sql,
		args: append([]any(nil), args...),
	}
}

func (s Statement) SQL() string {
	return s.sql
}

// Args returns a copy of the statement's arguments.
func (s Statement) Args() []any {
	return append([]any(nil), s.args...)
}
