package engine

import (
	"errors"
	"testing"

	"github.com/openfroyo/polsync/pkg/schema"
)

func TestResolveContainer(t *testing.T) {
	s := mustSchema(t, schema.AddressSchema())

	tests := []struct {
		name    string
		desired DesiredState
		want    ContainerSelector
		wantErr bool
	}{
		{name: "folder", desired: DesiredState{"name": "a", "folder": "Texas"}, want: ContainerSelector{Field: "folder", Value: "Texas"}},
		{name: "device", desired: DesiredState{"name": "a", "device": "fw-1"}, want: ContainerSelector{Field: "device", Value: "fw-1"}},
		{name: "none", desired: DesiredState{"name": "a"}, wantErr: true},
		{name: "two", desired: DesiredState{"name": "a", "folder": "Texas", "snippet": "s"}, wantErr: true},
		{name: "empty value", desired: DesiredState{"name": "a", "folder": ""}, wantErr: true},
		{name: "not a string", desired: DesiredState{"name": "a", "folder": 3}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveContainer(tt.desired, s)
			if tt.wantErr {
				if !errors.Is(err, ErrContainerSelection) {
					t.Fatalf("error = %v, want ErrContainerSelection", err)
				}
				if !IsInputError(err) {
					t.Error("container errors must be input errors")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveVariants(t *testing.T) {
	tests := []struct {
		name    string
		schema  *schema.ResourceSchema
		desired DesiredState
		want    map[string]string
		wantErr bool
	}{
		{
			name:    "single member",
			schema:  schema.AddressSchema(),
			desired: DesiredState{"ip_range": "10.0.0.1-10.0.0.9"},
			want:    map[string]string{"address_type": "ip_range"},
		},
		{
			name:    "required group empty",
			schema:  schema.AddressSchema(),
			desired: DesiredState{"description": "x"},
			wantErr: true,
		},
		{
			name:    "two members without precedence",
			schema:  schema.AddressSchema(),
			desired: DesiredState{"ip_netmask": "10.0.0.0/8", "fqdn": "a.example.com"},
			wantErr: true,
		},
		{
			name:    "nested precedence picks the coarsest unit",
			schema:  schema.IKECryptoProfileSchema(),
			desired: DesiredState{"lifetime": map[string]interface{}{"seconds": 3600, "hours": 8}},
			want:    map[string]string{"lifetime.unit": "hours"},
		},
		{
			name:   "nested group of a nested group",
			schema: schema.ServiceSchema(),
			desired: DesiredState{"protocol": map[string]interface{}{
				"tcp": map[string]interface{}{"port": "443"},
			}},
			want: map[string]string{"protocol.protocol": "tcp"},
		},
		{
			name:    "optional group unset",
			schema:  schema.RemoteNetworkSchema(),
			desired: DesiredState{"region": "us-east-1"},
			want:    map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustSchema(t, tt.schema)
			got, err := ResolveVariants(tt.desired, s)
			if tt.wantErr {
				if !errors.Is(err, ErrTypeSelection) {
					t.Fatalf("error = %v, want ErrTypeSelection", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestApplyVariantSelection(t *testing.T) {
	s := mustSchema(t, schema.IKECryptoProfileSchema())
	desired := DesiredState{
		"name":     "ike",
		"lifetime": map[string]interface{}{"seconds": 3600, "days": 1},
	}

	got := ApplyVariantSelection(desired, s)
	lifetime := got["lifetime"].(map[string]interface{})
	if _, ok := lifetime["seconds"]; ok {
		t.Errorf("losing unit kept: %v", lifetime)
	}
	if lifetime["days"] != 1 {
		t.Errorf("winning unit lost: %v", lifetime)
	}

	// The input is left untouched.
	if _, ok := desired["lifetime"].(map[string]interface{})["seconds"]; !ok {
		t.Error("ApplyVariantSelection mutated its input")
	}
}
