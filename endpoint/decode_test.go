package endpoint

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestUnmarshal_QuerySources(t *testing.T) {
	var params struct {
		Name  string   `query:"name"`
		Count int      `query:"count"`
		Big   int64    `query:"big"`
		On    bool     `query:"on"`
		Tags  []string `query:"tag"`
	}
	r := httptest.NewRequest("GET", "/?name=alice&count=7&big=9000000000&on=true&tag=a&tag=b", nil)
	if err := Unmarshal(r, &params); err != nil {
		t.Fatal(err)
	}
	if params.Name != "alice" || params.Count != 7 || params.Big != 9000000000 || !params.On {
		t.Errorf("unexpected decode: %+v", params)
	}
	if len(params.Tags) != 2 || params.Tags[0] != "a" || params.Tags[1] != "b" {
		t.Errorf("unexpected tags: %v", params.Tags)
	}
}

func TestUnmarshal_PathValue(t *testing.T) {
	var params struct {
		Provider string `path:"provider"`
	}
	r := httptest.NewRequest("GET", "/login/google", nil)
	r.SetPathValue("provider", "google")
	if err := Unmarshal(r, &params); err != nil {
		t.Fatal(err)
	}
	if params.Provider != "google" {
		t.Errorf("expected google, got %q", params.Provider)
	}
}

func TestUnmarshal_HeaderAndCookie(t *testing.T) {
	var params struct {
		Token   string `header:"X-Access-Token"`
		Session string `cookie:"sid"`
	}
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Access-Token", "tok123")
	r.AddCookie(&http.Cookie{Name: "sid", Value: "abc"})
	if err := Unmarshal(r, &params); err != nil {
		t.Fatal(err)
	}
	if params.Token != "tok123" || params.Session != "abc" {
		t.Errorf("unexpected decode: %+v", params)
	}
}

func TestUnmarshal_Form(t *testing.T) {
	var params struct {
		Code string `form:"code"`
	}
	r := httptest.NewRequest("POST", "/", strings.NewReader("code=xyz"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := Unmarshal(r, &params); err != nil {
		t.Fatal(err)
	}
	if params.Code != "xyz" {
		t.Errorf("expected xyz, got %q", params.Code)
	}
}

func TestUnmarshal_EmbeddedStruct(t *testing.T) {
	type Common struct {
		Next string `query:"next"`
	}
	var params struct {
		Common
		Code string `query:"code"`
	}
	r := httptest.NewRequest("GET", "/?next=/home&code=c1", nil)
	if err := Unmarshal(r, &params); err != nil {
		t.Fatal(err)
	}
	if params.Next != "/home" || params.Code != "c1" {
		t.Errorf("unexpected decode: %+v", params)
	}
}

func TestUnmarshal_TagPrecedence(t *testing.T) {
	// path wins over query when both tags name the same field.
	var params struct {
		ID string `path:"id" query:"id"`
	}
	r := httptest.NewRequest("GET", "/?id=fromquery", nil)
	r.SetPathValue("id", "frompath")
	if err := Unmarshal(r, &params); err != nil {
		t.Fatal(err)
	}
	if params.ID != "frompath" {
		t.Errorf("expected path value, got %q", params.ID)
	}
}

func TestUnmarshal_DefaultName(t *testing.T) {
	var params struct {
		State string `query:""`
	}
	r := httptest.NewRequest("GET", "/?state=s1", nil)
	if err := Unmarshal(r, &params); err != nil {
		t.Fatal(err)
	}
	if params.State != "s1" {
		t.Errorf("expected s1, got %q", params.State)
	}
}

func TestUnmarshal_MaxLength(t *testing.T) {
	var params struct {
		Note string `query:"note" maxLength:"4"`
	}
	r := httptest.NewRequest("GET", "/?note=toolong", nil)
	err := Unmarshal(r, &params)
	if err == nil {
		t.Fatal("expected error for over-limit value")
	}
	var ee *Error
	if !errors.As(err, &ee) || ee.Status != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestUnmarshal_BadInt(t *testing.T) {
	var params struct {
		N int `query:"n"`
	}
	r := httptest.NewRequest("GET", "/?n=notanumber", nil)
	err := Unmarshal(r, &params)
	var ee *Error
	if !errors.As(err, &ee) || ee.Status != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestUnmarshal_MissingLeavesZero(t *testing.T) {
	var params struct {
		Absent string `query:"absent"`
	}
	r := httptest.NewRequest("GET", "/", nil)
	if err := Unmarshal(r, &params); err != nil {
		t.Fatal(err)
	}
	if params.Absent != "" {
		t.Errorf("expected zero value, got %q", params.Absent)
	}
}

func TestUnmarshal_SkipTag(t *testing.T) {
	var params struct {
		Hidden string `query:"-"`
	}
	r := httptest.NewRequest("GET", "/?hidden=x", nil)
	if err := Unmarshal(r, &params); err != nil {
		t.Fatal(err)
	}
	if params.Hidden != "" {
		t.Errorf("expected skipped field to stay zero, got %q", params.Hidden)
	}
}
