package conf

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/zhengqiangwang/live-server-sub002/internal/conf/env"
)

var optionalVhostValuesType = func() reflect.Type {
	var fields []reflect.StructField
	rt := reflect.TypeOf(Vhost{})
	nf := rt.NumField()

	for i := 0; i < nf; i++ {
		f := rt.Field(i)
		j := f.Tag.Get("json")

		if j != "-" {
			if !strings.Contains(j, ",omitempty") {
				j += ",omitempty"
			}

			typ := f.Type
			if typ.Kind() != reflect.Pointer {
				typ = reflect.PtrTo(typ)
			}

			fields = append(fields, reflect.StructField{
				Name: f.Name,
				Type: typ,
				Tag:  reflect.StructTag(`json:"` + j + `"`),
			})
		}
	}

	return reflect.StructOf(fields)
}()

func newOptionalVhostValues() interface{} {
	return reflect.New(optionalVhostValuesType).Interface()
}

// OptionalVhost is a Vhost whose values can all be optional.
type OptionalVhost struct {
	Values interface{}
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *OptionalVhost) UnmarshalJSON(b []byte) error {
	p.Values = newOptionalVhostValues()
	d := json.NewDecoder(bytes.NewReader(b))
	d.DisallowUnknownFields()
	return d.Decode(p.Values)
}

// UnmarshalEnv implements env.Unmarshaler.
func (p *OptionalVhost) UnmarshalEnv(prefix string, _ string) error {
	if p.Values == nil {
		p.Values = newOptionalVhostValues()
	}
	return env.Load(prefix, p.Values)
}

// MarshalJSON implements json.Marshaler.
func (p *OptionalVhost) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Values)
}
