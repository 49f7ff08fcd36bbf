package sanitize

import (
	"math"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dimensions struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Unit   string `json:"unit"`
}

func TestFlatten_Shapes(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	var nilPtr *string
	var nilMap map[string]any
	id := uuid.MustParse("397ea6e0-e938-56c1-81d0-448258e753aa")

	raw := map[string]any{
		"name":       "Blue Mug",
		"price":      12.5,
		"stock":      int64(7),
		"in_stock":   true,
		"created_at": when,
		"missing":    nil,
		"nil_ptr":    nilPtr,
		"nil_map":    nilMap,
		"tags":       []string{"kitchen", "ceramic"},
		"mixed":      []any{"a", 1, 2.5, true, nil, map[string]any{"k": "v"}},
		"dims":       dimensions{Width: 10, Height: 12, Unit: "cm"},
		"attrs":      map[string]any{"color": "blue", "size": nil},
		"ref":        id,
		"raw":        []byte("bytes"),
		"":           "dropped",
	}

	got := Flatten(raw)

	assert.NotContains(t, got, "missing")
	assert.NotContains(t, got, "nil_ptr")
	assert.NotContains(t, got, "nil_map")
	assert.NotContains(t, got, "")

	assert.Equal(t, String("Blue Mug"), got["name"])
	assert.Equal(t, Number(12.5), got["price"])
	assert.Equal(t, Number(7), got["stock"])
	assert.Equal(t, Bool(true), got["in_stock"])

	assert.Equal(t, KindDate, got["created_at"].Kind())
	s, _ := got["created_at"].AsString()
	assert.Equal(t, "2024-03-01T11:30:00Z", s)

	tags, ok := got["tags"].AsStrings()
	require.True(t, ok)
	assert.Equal(t, []string{"kitchen", "ceramic"}, tags)

	mixed, ok := got["mixed"].AsStrings()
	require.True(t, ok)
	assert.Equal(t, []string{"a", "1", "2.5", "true", `{"k":"v"}`}, mixed)

	dims, _ := got["dims"].AsString()
	assert.JSONEq(t, `{"width":10,"height":12,"unit":"cm"}`, dims)

	attrs, _ := got["attrs"].AsString()
	assert.JSONEq(t, `{"color":"blue","size":null}`, attrs)

	ref, _ := got["ref"].AsString()
	assert.Equal(t, id.String(), ref)

	assert.Equal(t, String("bytes"), got["raw"])
}

func TestFlatten_NoNestedValues(t *testing.T) {
	raw := map[string]any{
		"deep":  map[string]any{"a": map[string]any{"b": []any{map[string]any{"c": 1}}}},
		"list":  []map[string]any{{"x": 1}, {"y": 2}},
		"ptr":   &dimensions{Width: 1},
		"when":  []time.Time{time.Unix(0, 0)},
		"empty": []any{},
	}

	for key, v := range Flatten(raw).Map() {
		switch tv := v.(type) {
		case string, float64, bool:
		case []string:
			for _, s := range tv {
				assert.NotEmpty(t, s, key)
			}
		default:
			t.Fatalf("key %s has non-flat value %T", key, v)
		}
	}
}

func TestFlatten_Unencodable(t *testing.T) {
	ch := make(chan int)
	raw := map[string]any{
		"nan":     math.NaN(),
		"inf":     math.Inf(1),
		"complex": complex(1, 2),
		"chan":    ch,
		"func_in": map[string]any{"f": func() {}},
	}

	got := Flatten(raw)

	assert.Equal(t, String("NaN"), got["nan"])
	assert.Equal(t, String("+Inf"), got["inf"])
	assert.Equal(t, KindString, got["complex"].Kind())
	assert.Equal(t, KindString, got["chan"].Kind())
	assert.Equal(t, KindString, got["func_in"].Kind())
}

type rawText []byte

func (r rawText) MarshalText() ([]byte, error) { return r, nil }

func TestFlatten_InvalidUTF8(t *testing.T) {
	raw := map[string]any{
		"title":      "caf\xe9",
		"blob":       []byte{0xff, 0xfe},
		"tags":       []any{"ok", "bad\xff", 7},
		"text":       rawText("x\x80y"),
		"nested":     map[string]any{"k": "v\xfe"},
		"key\xff":    "value",
		"clean":      "café",
		"clean_tags": []string{"naïve"},
	}

	got := Flatten(raw)

	for key, v := range got.Map() {
		assert.True(t, utf8.ValidString(key), "key %q", key)
		switch tv := v.(type) {
		case string:
			assert.True(t, utf8.ValidString(tv), "value of %q", key)
		case []string:
			for _, s := range tv {
				assert.True(t, utf8.ValidString(s), "element of %q", key)
			}
		}
	}

	assert.Equal(t, String("caf\uFFFD"), got["title"])
	assert.Equal(t, String("\uFFFD"), got["blob"])
	assert.Equal(t, String("x\uFFFDy"), got["text"])
	assert.Equal(t, String("café"), got["clean"])
	assert.Equal(t, String("value"), got["key\uFFFD"])

	tags, ok := got["tags"].AsStrings()
	require.True(t, ok)
	assert.Equal(t, []string{"ok", "bad\uFFFD", "7"}, tags)

	clean, _ := got["clean_tags"].AsStrings()
	assert.Equal(t, []string{"naïve"}, clean)
}

func TestFlatten_Deterministic(t *testing.T) {
	raw := map[string]any{"attrs": map[string]any{"b": 2, "a": 1, "c": []int{3}}}
	first := Flatten(raw)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Flatten(raw))
	}
	s, _ := first["attrs"].AsString()
	assert.Equal(t, `{"a":1,"b":2,"c":[3]}`, s)
}

func TestFlatten_Empty(t *testing.T) {
	assert.Empty(t, Flatten(nil))
}

func TestMetadata_Set(t *testing.T) {
	m := Metadata{}
	m.Set("ok", String("v"))
	m.Set("", String("v"))
	m.Set("zero", Value{})

	assert.Len(t, m, 1)
	assert.Equal(t, map[string]any{"ok": "v"}, m.Map())
}

func TestValue_Accessors(t *testing.T) {
	v := Strings([]string{"a"})
	got, ok := v.AsStrings()
	require.True(t, ok)
	got[0] = "mutated"
	again, _ := v.AsStrings()
	assert.Equal(t, "a", again[0])

	_, ok = v.AsNumber()
	assert.False(t, ok)
	assert.Equal(t, "strings", v.Kind().String())
	assert.Nil(t, Value{}.Interface())
}
