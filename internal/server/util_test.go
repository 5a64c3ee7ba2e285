package server

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIntQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		query string
		want  int
		ok    bool
	}{
		{"", 7, true},
		{"?n=3", 3, true},
		{"?n=%203%20", 3, true},
		{"?n=0", 0, false},
		{"?n=-2", 0, false},
		{"?n=two", 0, false},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("GET", "/x"+tc.query, nil)
		got, ok := intQuery(c, "n", 7)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("intQuery(%q) = %d, %v; want %d, %v", tc.query, got, ok, tc.want, tc.ok)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { writeJSON(c, 201, map[string]any{"a": 1}) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != 201 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type: %s", ct)
	}
	if body := rec.Body.String(); body != "{\"a\":1}\n" {
		t.Fatalf("body = %q", body)
	}
}
