package server

import "testing"

func TestClientRegistry(t *testing.T) {
	reg, err := NewClientRegistry([]ClientConfig{
		{ClientID: "client_1", ClientSecret: "hemligt", Scopes: []string{"openid", "email"}},
	})
	if err != nil {
		t.Fatalf("NewClientRegistry: %v", err)
	}

	c, ok := reg.Get("client_1")
	if !ok {
		t.Fatalf("registered client not found")
	}
	if c.SubjectType != SubjectPublic {
		t.Fatalf("subject type should default to public, got %s", c.SubjectType)
	}

	if _, ok := reg.Get("unknown"); ok {
		t.Fatalf("unknown client should not resolve")
	}

	reg.Add(&Client{ClientID: "client_2"})
	if _, ok := reg.Get("client_2"); !ok {
		t.Fatalf("added client not found")
	}

	if _, err := NewClientRegistry([]ClientConfig{{ClientSecret: "x"}}); err == nil {
		t.Fatalf("expected missing client_id to fail")
	}
}

func TestClientValidateScopes(t *testing.T) {
	c := &Client{ClientID: "client_1", Scopes: []string{"openid", "email"}}

	if err := c.ValidateScopes([]string{"openid", "email"}); err != nil {
		t.Fatalf("registered scopes rejected: %v", err)
	}
	if err := c.ValidateScopes([]string{"openid", "profile"}); err == nil {
		t.Fatalf("unregistered scope accepted")
	}

	open := &Client{ClientID: "client_2"}
	if err := open.ValidateScopes([]string{"anything"}); err != nil {
		t.Fatalf("empty registration should accept anything: %v", err)
	}
}
