package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestNew_DefaultsTimeout(t *testing.T) {
	c := New(0)
	if c.Timeout != DefaultTimeout {
		t.Fatalf("timeout = %v, want %v", c.Timeout, DefaultTimeout)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("transport type %T", c.Transport)
	}
	if tr.ResponseHeaderTimeout != DefaultTimeout {
		t.Errorf("response header timeout = %v", tr.ResponseHeaderTimeout)
	}
}

func TestNew_CustomTimeout(t *testing.T) {
	if c := New(3 * time.Second); c.Timeout != 3*time.Second {
		t.Fatalf("timeout = %v", c.Timeout)
	}
}
