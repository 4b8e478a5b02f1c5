package query

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/stable"
	"github.com/bobboyms/icydb/pkg/storage"
	"github.com/bobboyms/icydb/pkg/types"
)

// PlanLoad valida e transforma uma intenção de leitura em plano.
// Planejar é puro, determinístico e ligado ao schema: mesma intenção,
// mesmo plano. Erros de usuário saem como Validation; qualquer outra
// coisa é bug do planner.
func PlanLoad(m *schema.EntityModel, i *Intent) (*Plan, error) {
	return plan(m, i, false)
}

// PlanDelete é o caminho de mutação: igual ao load até a materialização,
// mais o teto de delete.
func PlanDelete(m *schema.EntityModel, i *Intent) (*Plan, error) {
	return plan(m, i, true)
}

func plan(m *schema.EntityModel, i *Intent, forDelete bool) (*Plan, error) {
	if i.Entity != m.Name {
		return nil, errors.Invariant("planner", "intent for %q planned against model %q", i.Entity, m.Name)
	}

	// 1. Validação lógica: campos, operadores, coerções, ordenabilidade.
	if i.HasPred {
		if err := validatePredicate(m, i.Pred); err != nil {
			return nil, err
		}
	}
	if err := validateOrder(m, i.Order); err != nil {
		return nil, err
	}
	if err := validatePagination(i, forDelete); err != nil {
		return nil, err
	}

	p := &Plan{
		Model:       m,
		Limit:       -1,
		DeleteLimit: -1,
		Missing:     i.Missing,
	}
	if i.HasLimit {
		p.Limit = i.Limit
	}
	if i.HasOffset {
		p.Offset = i.Offset
	}
	p.HasPage = i.HasLimit || i.HasOffset || i.CursorToken != ""
	if forDelete && i.HasDeleteLimit {
		p.DeleteLimit = i.DeleteLimit
	}

	// 2. Normalização (preserva semântica; plano de intenção normalizada
	// é idêntico ao da original).
	pred := True()
	if i.HasPred {
		pred = Normalize(i.Pred)
	}

	// 3. Ordem canônica: usuário + tie-break terminal de pk.
	p.Order = CanonicalOrder(m, i.Order)
	p.UserTerms = len(i.Order)

	// 4. Seleção do caminho de acesso.
	if err := selectAccess(m, i, pred, p); err != nil {
		return nil, err
	}

	// 5. Gates de pushdown de ORDER BY e fast paths.
	gateExecution(m, i, p)

	// 6. Assinatura e validação de cursor.
	p.Signature = planSignature(m, pred, p)
	if i.CursorToken != "" {
		c, err := DecodeCursor(i.CursorToken)
		if err != nil {
			return nil, err
		}
		if c.Signature != p.Signature {
			return nil, errors.Unsupported("planner", "cursor was issued by a different plan shape")
		}
		if len(c.Boundary) != len(p.Order) {
			return nil, errors.Unsupported("planner", "cursor boundary does not match plan order")
		}
		p.Cursor = c
	}

	return p, nil
}

// === validação ===

func validatePredicate(m *schema.EntityModel, p Predicate) error {
	switch p.kind {
	case pTrue, pFalse:
		return nil
	case pAnd, pOr:
		for _, c := range p.children {
			if err := validatePredicate(m, c); err != nil {
				return err
			}
		}
		return nil
	case pNot:
		return validatePredicate(m, p.children[0])

	case pCompare:
		f, ok := m.Field(p.field)
		if !ok {
			return errors.Invalid("planner", "unknown field %q", p.field)
		}
		if f.Kind == types.KindList || f.Kind == types.KindMap {
			return errors.Invalid("planner", "field %q is a collection; use collection predicates", p.field)
		}
		switch p.op {
		case OpStartsWith, OpEndsWith, OpTextContains, OpTextContainsCi:
			if f.Kind != types.KindText {
				return errors.Invalid("planner", "operator %s requires a text field, %q is %s", p.op, p.field, f.Kind)
			}
			if _, ok := p.value.AsText(); !ok {
				return errors.Invalid("planner", "operator %s requires a text literal", p.op)
			}
			return nil
		case OpLt, OpLte, OpGt, OpGte:
			if !f.Kind.Orderable() {
				return errors.Invalid("planner", "field %q of kind %s is not orderable", p.field, f.Kind)
			}
		}
		// Legalidade da coerção declarada: ela precisa cobrir ambos os
		// lados. Sem coerção implícita.
		values := p.values
		if p.op != OpIn && p.op != OpNotIn {
			values = []types.Value{p.value}
		}
		for _, v := range values {
			if err := checkCoercion(f, v, p.coercion); err != nil {
				return err
			}
		}
		return nil

	case pIsNull, pIsMissing:
		if _, ok := m.Field(p.field); !ok {
			return errors.Invalid("planner", "unknown field %q", p.field)
		}
		return nil

	case pIsEmpty, pIsNotEmpty:
		f, ok := m.Field(p.field)
		if !ok {
			return errors.Invalid("planner", "unknown field %q", p.field)
		}
		if f.Kind != types.KindList && f.Kind != types.KindMap {
			return errors.Invalid("planner", "collection predicate on non-collection field %q", p.field)
		}
		return nil

	case pMapContainsKey, pMapContainsValue, pMapContainsEntry:
		f, ok := m.Field(p.field)
		if !ok {
			return errors.Invalid("planner", "unknown field %q", p.field)
		}
		if f.Kind != types.KindMap {
			return errors.Invalid("planner", "map predicate on non-map field %q", p.field)
		}
		return nil

	default:
		return errors.Invariant("planner", "unvalidatable predicate node")
	}
}

func checkCoercion(f *schema.FieldDef, v types.Value, c CoercionSpec) error {
	want := c.family()
	if want == types.FamilyNone {
		return errors.Invalid("planner", "compare on %q without a declared coercion", f.Name)
	}
	if f.Kind.FamilyOf() != want {
		return errors.Invalid("planner", "coercion %v does not cover field %q of family %v",
			want, f.Name, f.Kind.FamilyOf())
	}
	if v.Family() != want {
		return errors.Invalid("planner", "coercion %v does not cover literal of family %v", want, v.Family())
	}
	return nil
}

func validateOrder(m *schema.EntityModel, order []OrderTerm) error {
	for _, t := range order {
		f, ok := m.Field(t.Field)
		if !ok {
			return errors.Invalid("planner", "order by unknown field %q", t.Field)
		}
		if !f.Kind.Orderable() {
			return errors.Invalid("planner", "order by non-orderable field %q (%s)", t.Field, f.Kind)
		}
	}
	return nil
}

func validatePagination(i *Intent, forDelete bool) error {
	paged := i.HasLimit || i.HasOffset || i.CursorToken != ""
	if forDelete {
		if paged {
			return errors.Invalid("planner", "delete does not accept limit/offset/cursor; use a delete limit")
		}
		if i.HasDeleteLimit {
			if i.DeleteLimit < 0 {
				return errors.Invalid("planner", "negative delete limit")
			}
			if len(i.Order) == 0 && !i.HasKeys {
				return errors.Unsupported("planner", "bounded delete requires an explicit total order")
			}
		}
		return nil
	}
	if i.HasDeleteLimit {
		return errors.Invalid("planner", "delete limit on a load intent")
	}
	if paged && len(i.Order) == 0 {
		return errors.Unsupported("planner", "pagination requires an order specification")
	}
	if i.CursorToken != "" && i.HasOffset {
		return errors.Unsupported("planner", "cursor and offset cannot be combined")
	}
	if i.HasLimit && i.Limit < 0 {
		return errors.Invalid("planner", "negative limit")
	}
	if i.HasOffset && i.Offset < 0 {
		return errors.Invalid("planner", "negative offset")
	}
	return nil
}

// === seleção de acesso ===

// childClass é a classificação de um filho de And para o seletor.
type childClass struct {
	pred    Predicate
	isEq    bool
	isRange bool
	field   string
	value   types.Value // eq
	lower   *RangeEnd
	upper   *RangeEnd
}

func classifyChildren(m *schema.EntityModel, pred Predicate) []childClass {
	var children []Predicate
	switch pred.kind {
	case pAnd:
		children = pred.children
	case pTrue:
		return nil
	default:
		children = []Predicate{pred}
	}

	// Cada filho passa pelo compile conservador isoladamente: um filho
	// que não compila vira resíduo, nunca erro (ConservativeSubset).
	out := make([]childClass, 0, len(children))
	for _, c := range children {
		cc := childClass{pred: c}
		comp := CompileConservative(m, c)
		if len(comp.Residual) == 0 && len(comp.Constraints) == 1 {
			for field, fc := range comp.Constraints {
				cc.field = field
				switch {
				case fc.Eq != nil:
					cc.isEq = true
					cc.value = *fc.Eq
				case fc.hasRange():
					cc.isRange = true
					cc.lower = fc.Lower
					cc.upper = fc.Upper
				}
			}
		}
		out = append(out, cc)
	}
	return out
}

func selectAccess(m *schema.EntityModel, i *Intent, pred Predicate, p *Plan) error {
	pk := m.PK()

	// Lote explícito de ids: dedup + ordem determinística por bytes.
	if i.HasKeys {
		pks := make([][]byte, 0, len(i.Keys))
		seen := make(map[string]bool, len(i.Keys))
		for _, k := range i.Keys {
			if k.Kind() != pk.Kind {
				return errors.Invalid("planner", "id of kind %s for pk of kind %s", k.Kind(), pk.Kind)
			}
			enc, err := types.Encode(k)
			if err != nil {
				return err
			}
			if !seen[string(enc)] {
				seen[string(enc)] = true
				pks = append(pks, enc)
			}
		}
		sort.Slice(pks, func(a, b int) bool { return bytes.Compare(pks[a], pks[b]) < 0 })

		kind := AccessKeys
		if len(pks) == 1 {
			kind = AccessKey
		}
		p.Access = Access{Kind: kind, PKs: pks}
		setResidual(p, pred)
		return nil
	}

	if pred.IsFalse() {
		p.Access = Access{Kind: AccessKeys} // vazio: nenhum key stream
		return nil
	}

	// Or de topo: tenta união composta; cada filho precisa compilar
	// estritamente para um caminho próprio (fail-closed por filho).
	if pred.kind == pOr {
		if access, ok := compositeUnion(m, pred); ok {
			p.Access = *access
			return nil
		}
		p.Access = Access{Kind: AccessPrimaryScan, Lower: stable.NoBound(), Upper: stable.NoBound()}
		setResidual(p, pred)
		return nil
	}

	children := classifyChildren(m, pred)

	// Igualdade na pk: lookup pontual.
	for ci := range children {
		c := &children[ci]
		if c.isEq && c.field == m.PKField {
			enc, err := types.Encode(c.value)
			if err != nil {
				return err
			}
			p.Access = Access{Kind: AccessKey, PKs: [][]byte{enc}}
			setResidual(p, restOf(children, map[int]bool{ci: true}))
			return nil
		}
	}

	// Melhor índice: prefixo de igualdade mais longo, depois um range
	// opcional no componente seguinte (só componentes de largura fixa
	// rangeiam: a moldura de tamanho quebraria a ordem dos variáveis).
	best := chooseIndex(m, children)
	if best != nil {
		access, consumed, err := buildIndexAccess(m, best, children)
		if err != nil {
			return err
		}
		p.Access = *access
		setResidual(p, restOf(children, consumed))
		return nil
	}

	// Interseção composta: duas igualdades cobertas por índices
	// distintos de componente único.
	if access, consumed, ok := compositeIntersection(m, children); ok {
		p.Access = *access
		setResidual(p, restOf(children, consumed))
		return nil
	}

	// Scan primário, com range na pk se o predicado der.
	access, consumed, err := primaryScanAccess(m, children)
	if err != nil {
		return err
	}
	p.Access = *access
	setResidual(p, restOf(children, consumed))
	return nil
}

func setResidual(p *Plan, pred Predicate) {
	if pred.IsZero() || pred.IsTrue() {
		return
	}
	p.Residual = pred
	p.HasResidual = true
}

func restOf(children []childClass, consumed map[int]bool) Predicate {
	var rest []Predicate
	for i := range children {
		if !consumed[i] {
			rest = append(rest, children[i].pred)
		}
	}
	switch len(rest) {
	case 0:
		return True()
	case 1:
		return rest[0]
	default:
		return And(rest...)
	}
}

// indexChoice é o índice escolhido com o casamento de componentes.
type indexChoice struct {
	index    *schema.IndexDef
	eqIdx    []int // índice do filho de igualdade por componente
	rangeIdx []int // filhos de range no componente seguinte
}

func chooseIndex(m *schema.EntityModel, children []childClass) *indexChoice {
	var best *indexChoice
	bestScore := 0

	for ii := range m.Indexes {
		ix := &m.Indexes[ii]
		choice := &indexChoice{index: ix}
		eqCount := 0

		for _, fieldName := range ix.Fields {
			found := -1
			for ci := range children {
				if children[ci].isEq && children[ci].field == fieldName {
					found = ci
					break
				}
			}
			if found < 0 {
				break
			}
			choice.eqIdx = append(choice.eqIdx, found)
			eqCount++
		}

		hasRange := false
		if eqCount < len(ix.Fields) {
			next := ix.Fields[eqCount]
			f, _ := m.Field(next)
			if f.Kind.Width() > 0 { // range só em componente de largura fixa
				for ci := range children {
					if children[ci].isRange && children[ci].field == next {
						choice.rangeIdx = append(choice.rangeIdx, ci)
						hasRange = true
					}
				}
			}
		}

		score := eqCount * 2
		if hasRange {
			score++
		}
		if score > bestScore {
			bestScore = score
			best = choice
		} else if score == bestScore && best != nil && score > 0 && ix.Name < best.index.Name {
			best = choice // desempate determinístico
		}
	}

	if bestScore == 0 {
		return nil
	}
	return best
}

func buildIndexAccess(m *schema.EntityModel, choice *indexChoice, children []childClass) (*Access, map[int]bool, error) {
	consumed := make(map[int]bool)
	prefix := make([][]byte, 0, len(choice.eqIdx))
	for _, ci := range choice.eqIdx {
		enc, err := types.Encode(children[ci].value)
		if err != nil {
			return nil, nil, err
		}
		prefix = append(prefix, enc)
		consumed[ci] = true
	}

	ix := choice.index
	prefixBytes := storage.IndexKeyPrefix(storage.KeyKindUser, ix.ID(), len(ix.Fields), prefix)

	if len(choice.rangeIdx) == 0 {
		upper := storage.PrefixUpperBound(prefixBytes)
		hi := stable.NoBound()
		if upper != nil {
			hi = stable.Excl(upper)
		}
		return &Access{
			Kind:   AccessIndexPrefix,
			Index:  ix,
			Prefix: prefix,
			Lower:  stable.Incl(prefixBytes),
			Upper:  hi,
		}, consumed, nil
	}

	// Um componente rangeado depois do prefixo de igualdade.
	var lower, upper *RangeEnd
	for _, ci := range choice.rangeIdx {
		c := &children[ci]
		if c.lower != nil {
			if lower != nil {
				continue // segundo lower fica no resíduo
			}
			lower = c.lower
			consumed[ci] = true
		}
		if c.upper != nil {
			if upper != nil {
				continue
			}
			upper = c.upper
			consumed[ci] = true
		}
	}

	lo, hi, err := rangeBounds(prefixBytes, lower, upper)
	if err != nil {
		return nil, nil, err
	}
	return &Access{
		Kind:   AccessIndexRange,
		Index:  ix,
		Prefix: prefix,
		Lower:  lo,
		Upper:  hi,
	}, consumed, nil
}

// rangeBounds converte pontas lógicas em bounds de bytes no keyspace do
// índice. A moldura de componente participa dos bytes, então bounds
// exclusivos viram "primeiro byte-string acima de todo key com aquele
// componente".
func rangeBounds(prefixBytes []byte, lower, upper *RangeEnd) (stable.Bound, stable.Bound, error) {
	lo := stable.Incl(prefixBytes)
	hiBytes := storage.PrefixUpperBound(prefixBytes)
	hi := stable.NoBound()
	if hiBytes != nil {
		hi = stable.Excl(hiBytes)
	}

	frame := func(v types.Value) ([]byte, error) {
		enc, err := types.Encode(v)
		if err != nil {
			return nil, err
		}
		framed := make([]byte, 0, len(prefixBytes)+2+len(enc))
		framed = append(framed, prefixBytes...)
		return appendComponentFrame(framed, enc), nil
	}

	if lower != nil {
		b, err := frame(lower.Value)
		if err != nil {
			return lo, hi, err
		}
		if lower.Inclusive {
			lo = stable.Incl(b)
		} else {
			past := storage.PrefixUpperBound(b)
			if past == nil {
				lo = stable.Excl(b)
			} else {
				lo = stable.Incl(past)
			}
		}
	}
	if upper != nil {
		b, err := frame(upper.Value)
		if err != nil {
			return lo, hi, err
		}
		if upper.Inclusive {
			past := storage.PrefixUpperBound(b)
			if past != nil {
				hi = stable.Excl(past)
			}
		} else {
			hi = stable.Excl(b)
		}
	}
	return lo, hi, nil
}

func appendComponentFrame(dst, component []byte) []byte {
	dst = append(dst, byte(len(component)>>8), byte(len(component)))
	return append(dst, component...)
}

func compositeUnion(m *schema.EntityModel, or Predicate) (*Access, bool) {
	children := make([]Access, 0, len(or.children))
	for _, c := range or.children {
		// StrictAllOrNone por filho: Or é fail-closed, um filho que não
		// compila inteiro invalida a união composta.
		comp, ok := CompileStrict(m, c)
		if !ok || len(comp.Constraints) != 1 {
			return nil, false
		}
		var child childClass
		for field, fc := range comp.Constraints {
			if fc.Eq == nil {
				return nil, false
			}
			child = childClass{field: field, value: *fc.Eq, isEq: true}
		}
		if child.field == m.PKField {
			enc, err := types.Encode(child.value)
			if err != nil {
				return nil, false
			}
			children = append(children, Access{Kind: AccessKey, PKs: [][]byte{enc}})
			continue
		}
		ix := leadingIndexFor(m, child.field)
		if ix == nil {
			return nil, false
		}
		enc, err := types.Encode(child.value)
		if err != nil {
			return nil, false
		}
		prefixBytes := storage.IndexKeyPrefix(storage.KeyKindUser, ix.ID(), len(ix.Fields), [][]byte{enc})
		upper := storage.PrefixUpperBound(prefixBytes)
		hi := stable.NoBound()
		if upper != nil {
			hi = stable.Excl(upper)
		}
		children = append(children, Access{
			Kind:   AccessIndexPrefix,
			Index:  ix,
			Prefix: [][]byte{enc},
			Lower:  stable.Incl(prefixBytes),
			Upper:  hi,
		})
	}
	return &Access{Kind: AccessComposite, SetOp: SetUnion, Children: children}, true
}

func compositeIntersection(m *schema.EntityModel, children []childClass) (*Access, map[int]bool, bool) {
	var accesses []Access
	consumed := make(map[int]bool)
	usedIndexes := make(map[string]bool)

	for ci := range children {
		c := &children[ci]
		if !c.isEq || c.field == m.PKField {
			continue
		}
		ix := leadingIndexFor(m, c.field)
		if ix == nil || usedIndexes[ix.Name] {
			continue
		}
		enc, err := types.Encode(c.value)
		if err != nil {
			continue
		}
		prefixBytes := storage.IndexKeyPrefix(storage.KeyKindUser, ix.ID(), len(ix.Fields), [][]byte{enc})
		upper := storage.PrefixUpperBound(prefixBytes)
		hi := stable.NoBound()
		if upper != nil {
			hi = stable.Excl(upper)
		}
		accesses = append(accesses, Access{
			Kind:   AccessIndexPrefix,
			Index:  ix,
			Prefix: [][]byte{enc},
			Lower:  stable.Incl(prefixBytes),
			Upper:  hi,
		})
		usedIndexes[ix.Name] = true
		consumed[ci] = true
	}

	if len(accesses) < 2 {
		return nil, nil, false
	}
	return &Access{Kind: AccessComposite, SetOp: SetIntersection, Children: accesses}, consumed, true
}

func leadingIndexFor(m *schema.EntityModel, field string) *schema.IndexDef {
	var best *schema.IndexDef
	for i := range m.Indexes {
		ix := &m.Indexes[i]
		if ix.Fields[0] == field {
			if best == nil || ix.Name < best.Name {
				best = ix
			}
		}
	}
	return best
}

func primaryScanAccess(m *schema.EntityModel, children []childClass) (*Access, map[int]bool, error) {
	consumed := make(map[int]bool)
	var lower, upper *RangeEnd

	for ci := range children {
		c := &children[ci]
		if !c.isRange || c.field != m.PKField {
			continue
		}
		if c.lower != nil && lower == nil {
			lower = c.lower
			consumed[ci] = true
		}
		if c.upper != nil && upper == nil {
			upper = c.upper
			consumed[ci] = true
		}
	}

	entityPrefix := []byte(m.Name)
	lo := stable.Incl(entityPrefix)
	hiBytes := storage.PrefixUpperBound(entityPrefix)
	hi := stable.NoBound()
	if hiBytes != nil {
		hi = stable.Excl(hiBytes)
	}

	// Pk entra crua na DataKey (sem moldura), então bounds diretos valem
	// para qualquer kind de pk.
	if lower != nil {
		enc, err := types.Encode(lower.Value)
		if err != nil {
			return nil, nil, err
		}
		b := append(append([]byte(nil), entityPrefix...), enc...)
		if lower.Inclusive {
			lo = stable.Incl(b)
		} else {
			lo = stable.Excl(b)
		}
	}
	if upper != nil {
		enc, err := types.Encode(upper.Value)
		if err != nil {
			return nil, nil, err
		}
		b := append(append([]byte(nil), entityPrefix...), enc...)
		if upper.Inclusive {
			hi = stable.Incl(b)
		} else {
			hi = stable.Excl(b)
		}
	}

	return &Access{Kind: AccessPrimaryScan, Lower: lo, Upper: hi}, consumed, nil
}

// === gates de execução ===

// orderedFieldsPushable verifica os termos do usuário para pushdown:
// sequência de campos, direção uniforme e a convenção canônica de
// null/missing têm de casar com o que o índice entrega. Campos nullable
// não entram no índice, e componentes de largura variável não preservam
// ordem dentro da moldura, então ambos barram o pushdown.
func orderedFieldsPushable(m *schema.EntityModel, terms []OrderTerm) bool {
	if len(terms) == 0 {
		return true
	}
	desc := terms[0].Desc
	for _, t := range terms {
		if t.Desc != desc {
			return false // direção tem de ser uniforme
		}
		f, _ := m.Field(t.Field)
		if f.Nullable || f.Kind.Width() == 0 {
			return false
		}
	}
	return true
}

func userOrderIsPK(m *schema.EntityModel, i *Intent) bool {
	return len(i.Order) == 0 || (len(i.Order) == 1 && i.Order[0].Field == m.PKField)
}

func gateExecution(m *schema.EntityModel, i *Intent, p *Plan) {
	p.Mode = ModeCanonical
	p.Dir = stable.Asc
	p.PostOrder = len(i.Order) > 0

	uniformDesc := len(i.Order) > 0
	for _, t := range i.Order {
		if !t.Desc {
			uniformDesc = false
			break
		}
	}

	switch p.Access.Kind {
	case AccessKey, AccessKeys:
		// Stream de chaves já vem em ordem de pk.
		if userOrderIsPK(m, i) {
			p.PostOrder = false
			if len(i.Order) == 1 && i.Order[0].Desc {
				p.Dir = stable.Desc
			}
		}

	case AccessPrimaryScan:
		if userOrderIsPK(m, i) {
			// O scan de pk já entrega ORDER BY pk em qualquer direção.
			// Fast path de pk só sem resíduo: um filtro fora da pk
			// derrotaria o early stop.
			p.PostOrder = false
			if !p.HasResidual {
				p.Mode = ModeFastPK
			}
			if len(i.Order) == 1 && i.Order[0].Desc {
				p.Dir = stable.Desc
			}
		}

	case AccessIndexPrefix:
		remaining := p.Access.Index.Fields[len(p.Access.Prefix):]
		if len(i.Order) == 0 && len(remaining) == 0 {
			// Igualdade total: stream ordenado por pk.
			p.PostOrder = false
			p.Mode = ModeFastPrefix
		} else if orderMatches(i.Order, remaining) && orderedFieldsPushable(m, i.Order) {
			p.PostOrder = false
			p.Mode = ModeFastPrefix
			if uniformDesc {
				p.Dir = stable.Desc
			}
		}

	case AccessIndexRange:
		remaining := p.Access.Index.Fields[len(p.Access.Prefix):]
		if orderMatches(i.Order, remaining) && orderedFieldsPushable(m, i.Order) {
			p.PostOrder = false
			if uniformDesc {
				p.Dir = stable.Desc
			}
			if !p.HasResidual && p.HasPage && p.Limit >= 0 {
				// Pushdown de LIMIT: o storage busca no máximo
				// offset+limit+1 entradas de índice.
				p.Mode = ModeFastRangeLimit
				p.PushLimit = p.Offset + p.Limit + 1
			}
		}

	case AccessComposite:
		// Merge determinístico por pk: stream em ordem de pk.
		if userOrderIsPK(m, i) && !uniformDesc {
			p.PostOrder = false
		}
	}
}

// orderMatches verifica se os termos do usuário são exatamente os campos
// restantes do índice, na sequência.
func orderMatches(terms []OrderTerm, remaining []string) bool {
	if len(terms) != len(remaining) {
		return false
	}
	for i, t := range terms {
		if t.Field != remaining[i] {
			return false
		}
	}
	return true
}

// === assinatura ===

func planSignature(m *schema.EntityModel, pred Predicate, p *Plan) uint64 {
	h := xxhash.New()
	write := func(s string) {
		_, _ = h.WriteString(s)
		_, _ = h.WriteString("\x1f")
	}
	write(m.Name)
	write(pred.String())
	write(p.Access.Kind.String())
	if p.Access.Index != nil {
		write(p.Access.Index.Name)
	}
	for _, t := range p.Order {
		write(fmt.Sprintf("%s:%t", t.Field, t.Desc))
	}
	write(fmt.Sprintf("dir=%d", p.Dir))
	write(fmt.Sprintf("missing=%d", p.Missing))
	return h.Sum64()
}
