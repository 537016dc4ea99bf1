package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kataras/golog"
)

func TestWithPrefixesContext(t *testing.T) {
	var buf bytes.Buffer
	gl := golog.New()
	gl.SetOutput(&buf)
	gl.SetLevel("debug")

	l := Wrap(gl).With("node", "fetch").With("attempt", 2)
	l.Infof("retrying in %s", "50ms")

	out := buf.String()
	if !strings.Contains(out, "node=fetch") || !strings.Contains(out, "attempt=2") {
		t.Errorf("missing context: %q", out)
	}
	if !strings.Contains(out, "retrying in 50ms") {
		t.Errorf("missing message: %q", out)
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	gl := golog.New()
	gl.SetOutput(&buf)
	gl.SetLevel("error")

	l := Wrap(gl)
	l.Debugf("hidden")
	l.Infof("hidden")
	l.Errorf("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("suppressed levels leaked: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("error level missing: %q", out)
	}
}

func TestNopDiscards(t *testing.T) {
	l := Nop()
	l.Debugf("x")
	l.With("k", "v").Errorf("x")
}
