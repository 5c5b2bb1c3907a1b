package endpoint

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
)

// defaultFieldLimit bounds the byte length of a single decoded field value.
// Override per field with a `maxLength` tag; `maxLength:"0"` removes the
// limit.
var defaultFieldLimit = 16 * 1024

// Unmarshal populates dst (a non-nil pointer to a struct) from the request.
//
// Supported struct tags, in precedence order when several are present on one
// field:
//
//   - `path:"name"`: r.PathValue
//   - `query:"name"`: r.URL.Query()
//   - `form:"name"`: r.PostForm (ParseForm is called as needed)
//   - `header:"name"`: r.Header
//   - `cookie:"name"`: r.Cookie(name)
//
// A name of "-" skips the field; an empty name defaults to the lowercased
// field name. Supported field types: string, int, int64, bool and []string
// (multi-valued sources only). Anonymous embedded structs are decoded
// recursively. Missing values leave the field unchanged.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return &Error{Status: http.StatusInternalServerError, Err: errors.New("endpoint: decode: nil request")}
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return &Error{Status: http.StatusInternalServerError, Err: errors.New("endpoint: decode: dst must be a non-nil pointer")}
	}
	root := v.Elem()
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	if root.Kind() != reflect.Struct {
		return &Error{Status: http.StatusInternalServerError, Err: errors.New("endpoint: decode: dst must point to a struct")}
	}

	var query url.Values
	if r.URL != nil {
		query = r.URL.Query()
	}
	return unmarshalStruct(r, root, query)
}

var sources = []string{"path", "query", "form", "header", "cookie"}

func unmarshalStruct(r *http.Request, sv reflect.Value, query url.Values) error {
	st := sv.Type()
	for i := 0; i < st.NumField(); i++ {
		sf := st.Field(i)
		fv := sv.Field(i)

		if sf.Anonymous && fv.Kind() == reflect.Struct {
			if err := unmarshalStruct(r, fv, query); err != nil {
				return err
			}
			continue
		}
		if !fv.CanSet() {
			continue
		}

		for _, src := range sources {
			tag, ok := sf.Tag.Lookup(src)
			if !ok {
				continue
			}
			if tag == "-" {
				break
			}
			name := tag
			if name == "" {
				name = strings.ToLower(sf.Name)
			}
			values, present, err := lookupValues(r, src, name, query)
			if err != nil {
				return err
			}
			if !present {
				break
			}
			limit, err := fieldLimit(sf)
			if err != nil {
				return err
			}
			if err := setField(fv, sf.Name, values, limit); err != nil {
				return err
			}
			break
		}
	}
	return nil
}

func lookupValues(r *http.Request, src, name string, query url.Values) (values []string, present bool, err error) {
	switch src {
	case "path":
		v := r.PathValue(name)
		if v == "" {
			return nil, false, nil
		}
		return []string{v}, true, nil
	case "query":
		vs, ok := query[name]
		return vs, ok && len(vs) > 0, nil
	case "form":
		if r.PostForm == nil {
			if err := r.ParseForm(); err != nil {
				return nil, false, WrapError(http.StatusBadRequest, "malformed form body", err)
			}
		}
		vs, ok := r.PostForm[name]
		return vs, ok && len(vs) > 0, nil
	case "header":
		vs, ok := r.Header[http.CanonicalHeaderKey(name)]
		return vs, ok && len(vs) > 0, nil
	case "cookie":
		c, err := r.Cookie(name)
		if err != nil {
			return nil, false, nil
		}
		return []string{c.Value}, true, nil
	}
	return nil, false, fmt.Errorf("endpoint: decode: unknown source %q", src)
}

func fieldLimit(sf reflect.StructField) (int, error) {
	tag, ok := sf.Tag.Lookup("maxLength")
	if !ok || strings.TrimSpace(tag) == "" {
		return defaultFieldLimit, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(tag))
	if err != nil || n < 0 {
		return 0, &Error{Status: http.StatusInternalServerError, Err: fmt.Errorf("endpoint: decode: bad maxLength tag on %s", sf.Name)}
	}
	return n, nil
}

func setField(fv reflect.Value, fieldName string, values []string, limit int) error {
	if limit > 0 {
		for _, v := range values {
			if len(v) > limit {
				return Errorf(http.StatusBadRequest, "%s exceeds maximum length of %d bytes", strings.ToLower(fieldName), limit)
			}
		}
	}
	first := values[0]
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(first)
	case reflect.Bool:
		b, err := strconv.ParseBool(first)
		if err != nil {
			return Errorf(http.StatusBadRequest, "invalid boolean for %s", strings.ToLower(fieldName))
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(first, 10, fv.Type().Bits())
		if err != nil {
			return Errorf(http.StatusBadRequest, "invalid integer for %s", strings.ToLower(fieldName))
		}
		fv.SetInt(n)
	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.String {
			return &Error{Status: http.StatusInternalServerError, Err: fmt.Errorf("endpoint: decode: unsupported slice type for %s", fieldName)}
		}
		fv.Set(reflect.ValueOf(append([]string(nil), values...)))
	default:
		return &Error{Status: http.StatusInternalServerError, Err: fmt.Errorf("endpoint: decode: unsupported field type for %s", fieldName)}
	}
	return nil
}
