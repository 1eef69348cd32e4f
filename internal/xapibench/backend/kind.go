package backend

import (
	"strings"

	"github.com/nsqlite/xapibench/internal/xapibench/fault"
	"github.com/orsinium-labs/enum"
)

// Kind is the storage technology a Lake talks to.
type Kind enum.Member[string]

var (
	ClickHouse = Kind{Value: "clickhouse"}
	Mongo      = Kind{Value: "mongo"}
	Citus      = Kind{Value: "citus"}
	Ralph      = Kind{Value: "ralph"}
	SQLite     = Kind{Value: "sqlite"}

	Kinds = enum.New(ClickHouse, Mongo, Citus, Ralph, SQLite)
)

func (k Kind) String() string {
	return k.Value
}

// Category names the class of store the kind stands for.
func (k Kind) Category() string {
	switch k {
	case ClickHouse:
		return "columnar-store"
	case Mongo:
		return "document-store"
	case Citus:
		return "distributed-relational-store"
	case Ralph:
		return "lrs-api"
	case SQLite:
		return "embedded-store"
	}
	return "unknown"
}

// ParseKind accepts a kind name ("clickhouse") or its category
// ("columnar-store"), case insensitive.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if k := Kinds.Parse(s); k != nil {
		return *k, nil
	}
	for _, k := range Kinds.Members() {
		if k.Category() == s {
			return k, nil
		}
	}
	return Kind{}, fault.Errorf(
		fault.InvalidConfiguration, "select_backend",
		"unknown backend %q, valid values are: %s", s, strings.Join(Kinds.Values(), ", "),
	)
}
