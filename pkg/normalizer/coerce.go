package normalizer

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// форматы времени, которые встречаются у маркетплейса, зона по умолчанию UTC
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp разбирает ISO-8601 (включая суффикс Z) и возвращает момент в UTC,
// для пустой или нераспознанной строки возвращает nil
func ParseTimestamp(s string) *time.Time {

	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}

	return nil
}

func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}

func str(r gjson.Result) *string {

	if !present(r) {
		return nil
	}
	s := r.String()
	if r.IsObject() || r.IsArray() {
		s = r.Raw
	}

	return &s
}

func num(r gjson.Result) *float64 {

	if !present(r) {
		return nil
	}

	switch r.Type {
	case gjson.Number:
		f := r.Float()
		return &f
	case gjson.String:
		// суммы иногда приходят строкой
		if f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64); err == nil {
			return &f
		}
	}

	return nil
}

func integer(r gjson.Result) *int {

	f := num(r)
	if f == nil {
		return nil
	}
	i := int(*f)

	return &i
}

func boolean(r gjson.Result) *bool {

	if !present(r) {
		return nil
	}

	var b bool
	switch r.Type {
	case gjson.True, gjson.False:
		b = r.Bool()
	case gjson.String:
		v, err := strconv.ParseBool(strings.TrimSpace(r.Str))
		if err != nil {
			return nil
		}
		b = v
	case gjson.Number:
		b = r.Float() != 0
	default:
		return nil
	}

	return &b
}

func timestamp(r gjson.Result) *time.Time {

	if !present(r) || r.Type != gjson.String {
		return nil
	}

	return ParseTimestamp(r.Str)
}

// rawJSON возвращает копию исходного JSON значения или nil
func rawJSON(r gjson.Result) []byte {

	if !present(r) {
		return nil
	}

	return []byte(r.Raw)
}
