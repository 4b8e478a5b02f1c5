package session_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bobboyms/icydb/pkg/engine"
	"github.com/bobboyms/icydb/pkg/query"
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/session"
	"github.com/bobboyms/icydb/pkg/stable"
	"github.com/bobboyms/icydb/pkg/types"
)

// User é a forma que o codegen emitiria: EntityName em receiver de
// ponteiro devolvendo constante (nil-safe), campos via mapa.
type User struct {
	fields map[string]types.Value
}

func (u *User) EntityName() string { return "User" }

func (u *User) Get(field string) (types.Value, bool) {
	v, ok := u.fields[field]
	return v, ok
}

func (u *User) Set(field string, v types.Value) error {
	if u.fields == nil {
		u.fields = make(map[string]types.Value)
	}
	u.fields[field] = v
	return nil
}

func newUser(id types.Value, name, email string, age uint64) *User {
	return &User{fields: map[string]types.Value{
		"id":    id,
		"name":  types.Text(name),
		"email": types.Text(email),
		"age":   types.Uint(age),
	}}
}

func testSession(t *testing.T) *session.Session {
	t.Helper()
	reg := schema.NewRegistry()
	err := reg.Register(&schema.EntityModel{
		Name:    "User",
		PKField: "id",
		Fields: []schema.FieldDef{
			{Name: "id", Kind: types.KindUlid},
			{Name: "name", Kind: types.KindText},
			{Name: "email", Kind: types.KindText},
			{Name: "age", Kind: types.KindUint, Nullable: true},
		},
		Indexes: []schema.IndexDef{
			{Name: "by_email", Fields: []string{"email"}, Unique: true},
		},
	}, func() schema.Row { return &User{fields: make(map[string]types.Value)} })
	require.NoError(t, err)

	eng, err := engine.New(stable.NewMemProvider(), reg, engine.Options{})
	require.NoError(t, err)
	return session.New(eng)
}

func userID(t *testing.T, u *User) schema.ID[*User] {
	t.Helper()
	v, ok := u.Get("id")
	require.True(t, ok)
	return schema.MustID[*User](v)
}

func TestSession_CRUDTerminals(t *testing.T) {
	s := testSession(t)

	ana := newUser(types.NewUlid(), "ana", "ana@x.com", 30)
	require.NoError(t, session.Insert(s, ana))

	// Row por id.
	got, err := session.Load[*User](s).ByID(userID(t, ana)).Row()
	require.NoError(t, err)
	name, _ := got.Get("name")
	require.Equal(t, "ana", mustText(t, name))

	// RowOpt ausente não é erro.
	_, found, err := session.Load[*User](s).ByID(schema.MustID[*User](types.NewUlid())).RowOpt()
	require.NoError(t, err)
	require.False(t, found)

	// Row ausente é NotFound.
	_, err = session.Load[*User](s).ByID(schema.MustID[*User](types.NewUlid())).Row()
	requireKind(t, err, session.KindQueryNotFound)

	// Count / Exists / Keys / First.
	n, err := session.Load[*User](s).Count()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	ok, err := session.Load[*User](s).Where(query.Eq("email", types.Text("ana@x.com"))).Exists()
	require.NoError(t, err)
	require.True(t, ok)

	keys, err := session.Load[*User](s).Keys()
	require.NoError(t, err)
	require.Len(t, keys, 1)

	first, found, err := session.Load[*User](s).OrderBy("name").First()
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, first)

	// Delete.
	deleted, err := session.Delete[*User](s).ByID(userID(t, ana)).Execute()
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
}

func TestSession_ErrorKinds(t *testing.T) {
	s := testSession(t)

	// Campo desconhecido → Query(Invalid).
	_, err := session.Load[*User](s).Where(query.Eq("ghost", types.Int(1))).Rows()
	requireKind(t, err, session.KindQueryInvalid)

	// Paginação sem ordem → Query(Unsupported).
	_, err = session.Load[*User](s).Limit(3).Rows()
	requireKind(t, err, session.KindQueryUnsupported)

	// Conflito de unicidade → Query(NotUnique).
	a := newUser(types.NewUlid(), "a", "dup@x.com", 1)
	b := newUser(types.NewUlid(), "b", "dup@x.com", 2)
	require.NoError(t, session.Insert(s, a))
	err = session.Insert(s, b)
	requireKind(t, err, session.KindQueryNotUnique)

	// Insert duplicado → erro tipado de update.
	err = session.Insert(s, a)
	requireKind(t, err, session.KindUpdateConflict)
}

func TestSession_ExecutePaged(t *testing.T) {
	s := testSession(t)
	for i := 0; i < 5; i++ {
		u := newUser(types.NewUlid(), string(rune('a'+i)), string(rune('a'+i))+"@x.com", uint64(20+i))
		require.NoError(t, session.Insert(s, u))
	}

	var all []*User
	cursor := ""
	pages := 0
	for {
		b := session.Load[*User](s).OrderBy("age").Limit(2)
		if cursor != "" {
			b.Cursor(cursor)
		}
		page, err := b.ExecutePaged()
		require.NoError(t, err)
		all = append(all, page.Rows...)
		pages++
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}
	require.Equal(t, 5, len(all))
	require.Equal(t, 3, pages)
	for i := 1; i < len(all); i++ {
		prev, _ := all[i-1].Get("age")
		cur, _ := all[i].Get("age")
		c, ok := types.Compare(prev, cur)
		require.True(t, ok)
		require.LessOrEqual(t, c, 0)
	}
}

func TestSession_PatchByID(t *testing.T) {
	s := testSession(t)
	ana := newUser(types.NewUlid(), "ana", "ana@x.com", 30)
	require.NoError(t, session.Insert(s, ana))

	patched, err := session.PatchByID(s, userID(t, ana), `{"name": "ana maria", "age": null}`)
	require.NoError(t, err)
	name, _ := patched.Get("name")
	require.Equal(t, "ana maria", mustText(t, name))
	age, present := patched.Get("age")
	require.True(t, present)
	require.True(t, age.IsNull())

	// Persistiu.
	got, err := session.Load[*User](s).ByID(userID(t, ana)).Row()
	require.NoError(t, err)
	name, _ = got.Get("name")
	require.Equal(t, "ana maria", mustText(t, name))

	// Patch em campo desconhecido → Invalid.
	_, err = session.PatchByID(s, userID(t, ana), `{"ghost": 1}`)
	requireKind(t, err, session.KindQueryInvalid)
}

func TestSession_ManyLanes(t *testing.T) {
	s := testSession(t)

	u1 := newUser(types.NewUlid(), "a", "a@x.com", 1)
	u2 := newUser(types.NewUlid(), "b", "b@x.com", 2)
	require.NoError(t, session.InsertManyAtomic(s, []*User{u1, u2}))

	n, err := session.Load[*User](s).Count()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// Não-atômico fail-fast: o primeiro conflita, nada mais entra.
	u3 := newUser(types.NewUlid(), "c", "a@x.com", 3) // email duplicado
	u4 := newUser(types.NewUlid(), "d", "d@x.com", 4)
	committed, err := session.InsertManyNonAtomic(s, []*User{u3, u4})
	require.Error(t, err)
	require.Equal(t, 0, committed)
}

func TestSession_ObservabilityEndpoints(t *testing.T) {
	s := testSession(t)
	require.NoError(t, session.Insert(s, newUser(types.NewUlid(), "a", "a@x.com", 1)))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.NotEmpty(t, snap)

	m := s.Metrics()
	require.Positive(t, m["rows_saved"])
	s.MetricsReset()
	require.Zero(t, s.Metrics()["rows_saved"])

	explain, err := session.Load[*User](s).Where(query.Eq("email", types.Text("a@x.com"))).Explain()
	require.NoError(t, err)
	require.Contains(t, explain, "IndexPrefix")

	// Explain é determinístico para planos equivalentes.
	explain2, err := session.Load[*User](s).Where(query.Eq("email", types.Text("a@x.com"))).Explain()
	require.NoError(t, err)
	require.Equal(t, explain, explain2)
}

func mustText(t *testing.T, v types.Value) string {
	t.Helper()
	s, ok := v.AsText()
	require.True(t, ok)
	return s
}

func requireKind(t *testing.T, err error, kind session.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	var se *session.Error
	require.ErrorAs(t, err, &se)
	require.Equal(t, kind, se.Kind, "got %v", err)
}
