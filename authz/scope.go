package authz

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ecclesia-org/ecclesia/role"
	"github.com/ecclesia-org/ecclesia/session"
)

// Predicate is a SQL filter fragment with its bind arguments.
// An empty SQL means unrestricted.
type Predicate struct {
	SQL  string
	Args []any
}

// Unrestricted reports whether the predicate filters nothing
func (p Predicate) Unrestricted() bool {
	return p.SQL == ""
}

// And returns " AND (<sql>)" or "" when unrestricted
func (p Predicate) And() string {
	if p.Unrestricted() {
		return ""
	}
	return " AND (" + p.SQL + ")"
}

// Where returns " WHERE <sql>" or "" when unrestricted
func (p Predicate) Where() string {
	if p.Unrestricted() {
		return ""
	}
	return " WHERE " + p.SQL
}

// nothing is returned alongside ErrNoScope so a caller ignoring the error
// still matches no rows
var nothing = Predicate{SQL: "FALSE"}

var aliasPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Table and column names used in scope SQL. Nothing else is ever interpolated.
const (
	tableUsers          = "users"
	tableParishes       = "parishes"
	tableDeaneries      = "deaneries"
	tableArchdeaconries = "archdeaconries"
	tableDioceses       = "dioceses"

	colID             = "id"
	colDioceseID      = "diocese_id"
	colArchdeaconryID = "archdeaconry_id"
	colDeaneryID      = "deanery_id"
	colParishID       = "parish_id"
)

// joinStep joins table (as alias) whose id equals fk on the previous table
type joinStep struct {
	table string
	alias string
	fk    string
}

// scopePath filters a resource by one hierarchy level: follow joins, then
// compare column on the last joined alias (or the base alias) with the scope id
type scopePath struct {
	joins  []joinStep
	column string
}

// resourceSpec is the explicit join path of one resource type per level
type resourceSpec struct {
	table string
	alias string
	paths map[role.Level]scopePath
}

var (
	joinDeanery      = joinStep{table: tableDeaneries, alias: "dn", fk: colDeaneryID}
	joinArchdeaconry = joinStep{table: tableArchdeaconries, alias: "ad", fk: colArchdeaconryID}
)

var resources = map[ResourceType]resourceSpec{
	ResourceUser: {
		table: tableUsers, alias: "u",
		paths: map[role.Level]scopePath{
			role.LevelDiocese:      {column: colDioceseID},
			role.LevelArchdeaconry: {column: colArchdeaconryID},
			role.LevelDeanery:      {column: colDeaneryID},
			role.LevelParish:       {column: colParishID},
		},
	},
	ResourceParish: {
		table: tableParishes, alias: "p",
		paths: map[role.Level]scopePath{
			role.LevelParish:       {column: colID},
			role.LevelDeanery:      {column: colDeaneryID},
			role.LevelArchdeaconry: {joins: []joinStep{joinDeanery}, column: colArchdeaconryID},
			role.LevelDiocese:      {joins: []joinStep{joinDeanery, joinArchdeaconry}, column: colDioceseID},
		},
	},
	ResourceDeanery: {
		table: tableDeaneries, alias: "dn",
		paths: map[role.Level]scopePath{
			role.LevelDeanery:      {column: colID},
			role.LevelArchdeaconry: {column: colArchdeaconryID},
			role.LevelDiocese:      {joins: []joinStep{joinArchdeaconry}, column: colDioceseID},
		},
	},
	ResourceArchdeaconry: {
		table: tableArchdeaconries, alias: "ad",
		paths: map[role.Level]scopePath{
			role.LevelArchdeaconry: {column: colID},
			role.LevelDiocese:      {column: colDioceseID},
		},
	},
	ResourceDiocese: {
		table: tableDioceses, alias: "d",
		paths: map[role.Level]scopePath{
			role.LevelDiocese: {column: colID},
		},
	},
}

// BuildScopePredicate restricts a users query aliased as alias to the rows the
// session may see. Placeholders are numbered from offset+1 so the fragment can
// be appended to a query that already has offset arguments.
//
// Global roles get an empty predicate. Scoped admins get one equality on the
// column of their level. Members see only their own row. A session missing the
// id its role needs yields ErrNoScope and a predicate matching nothing.
func BuildScopePredicate(sess *session.Session, alias string, offset int) (Predicate, error) {
	if !aliasPattern.MatchString(alias) {
		return nothing, fmt.Errorf("invalid table alias %q", alias)
	}
	if !sess.LoggedIn() {
		return nothing, ErrNoScope
	}
	ph := "$" + strconv.Itoa(offset+1)

	switch {
	case sess.Role.IsGlobal():
		return Predicate{}, nil
	case sess.Role == role.Member:
		return Predicate{SQL: alias + "." + colID + " = " + ph, Args: []any{sess.UserID}}, nil
	}

	level := sess.Role.ScopeLevel()
	path, ok := resources[ResourceUser].paths[level]
	scopeID := sess.Scope.ID(level)
	if !ok || scopeID == 0 {
		return nothing, ErrNoScope
	}
	return Predicate{SQL: alias + "." + path.column + " = " + ph, Args: []any{scopeID}}, nil
}

// IDSet is the result of AllowedIDs. All means no restriction.
type IDSet struct {
	All bool
	IDs []int64
}

// Contains reports whether id is allowed
func (s IDSet) Contains(id int64) bool {
	if s.All {
		return true
	}
	for _, v := range s.IDs {
		if v == id {
			return true
		}
	}
	return false
}

// ScopeResolver runs scoped lookups against the hierarchy tables
type ScopeResolver struct {
	db *sql.DB
}

// NewScopeResolver creates a resolver over db
func NewScopeResolver(db *sql.DB) *ScopeResolver {
	return &ScopeResolver{db: db}
}

// scopedQuery builds "SELECT alias.id FROM ... WHERE <filter> = $1" for the
// session's level on resource
func scopedQuery(sess *session.Session, resource ResourceType) (string, int64, error) {
	spec, ok := resources[resource]
	if !ok {
		return "", 0, ErrUnknownResource
	}
	level := sess.Role.ScopeLevel()
	path, ok := spec.paths[level]
	scopeID := sess.Scope.ID(level)
	if !ok || scopeID == 0 {
		return "", 0, ErrNoScope
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(spec.alias + "." + colID)
	b.WriteString(" FROM " + spec.table + " " + spec.alias)
	prev := spec.alias
	last := spec.alias
	for _, j := range path.joins {
		b.WriteString(" JOIN " + j.table + " " + j.alias + " ON " + j.alias + "." + colID + " = " + prev + "." + j.fk)
		prev = j.alias
		last = j.alias
	}
	b.WriteString(" WHERE " + last + "." + path.column + " = $1")
	return b.String(), scopeID, nil
}

// AllowedIDs returns the ids of resource visible to the session, or All for
// global roles
func (r *ScopeResolver) AllowedIDs(ctx context.Context, sess *session.Session, resource ResourceType) (IDSet, error) {
	if !sess.LoggedIn() {
		return IDSet{}, ErrNoScope
	}
	if _, ok := resources[resource]; !ok {
		return IDSet{}, ErrUnknownResource
	}
	if sess.Role.IsGlobal() {
		return IDSet{All: true}, nil
	}
	if sess.Role == role.Member {
		if resource == ResourceUser {
			return IDSet{IDs: []int64{sess.UserID}}, nil
		}
		return IDSet{}, ErrNoScope
	}

	query, scopeID, err := scopedQuery(sess, resource)
	if err != nil {
		return IDSet{}, err
	}
	rows, err := r.db.QueryContext(ctx, query, scopeID)
	if err != nil {
		return IDSet{}, fmt.Errorf("scoped lookup for %s: %w", resource, err)
	}
	defer rows.Close()

	set := IDSet{IDs: []int64{}}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return IDSet{}, err
		}
		set.IDs = append(set.IDs, id)
	}
	return set, rows.Err()
}

// InScope reports whether id of resource is inside the session's subtree.
// It answers the same question as AllowedIDs(...).Contains(id) with a single
// existence query.
func (r *ScopeResolver) InScope(ctx context.Context, sess *session.Session, resource ResourceType, id int64) (bool, error) {
	if !sess.LoggedIn() {
		return false, ErrNoScope
	}
	if _, ok := resources[resource]; !ok {
		return false, ErrUnknownResource
	}
	if sess.Role.IsGlobal() {
		return true, nil
	}
	if sess.Role == role.Member {
		return resource == ResourceUser && id == sess.UserID, nil
	}

	query, scopeID, err := scopedQuery(sess, resource)
	if err != nil {
		return false, err
	}
	alias := resources[resource].alias
	var exists bool
	err = r.db.QueryRowContext(ctx,
		"SELECT EXISTS("+query+" AND "+alias+"."+colID+" = $2)", scopeID, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("scope check for %s %d: %w", resource, id, err)
	}
	return exists, nil
}
