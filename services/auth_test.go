package services

import (
	"testing"

	"github.com/richinsley/comfyflow/comfyerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuthService(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AuthConfig
		want    map[string]string
		wantErr bool
	}{
		{name: "empty means none", cfg: AuthConfig{}, want: map[string]string{}},
		{name: "none", cfg: AuthConfig{Type: AuthNone, APIKey: "ignored"}, want: map[string]string{}},
		{name: "basic", cfg: AuthConfig{Type: AuthBasic, Username: "user", Password: "pass"},
			want: map[string]string{"Authorization": "Basic dXNlcjpwYXNz"}},
		{name: "bearer", cfg: AuthConfig{Type: "Bearer", APIKey: " sk-123 "},
			want: map[string]string{"Authorization": "Bearer sk-123"}},
		{name: "custom", cfg: AuthConfig{Type: AuthCustom, Headers: map[string]string{"x-api-key": "k", "X-Org": "o"}},
			want: map[string]string{"X-Api-Key": "k", "X-Org": "o"}},
		{name: "basic without password", cfg: AuthConfig{Type: AuthBasic, Username: "user"}, wantErr: true},
		{name: "basic colon in user", cfg: AuthConfig{Type: AuthBasic, Username: "a:b", Password: "p"}, wantErr: true},
		{name: "bearer without key", cfg: AuthConfig{Type: AuthBearer, APIKey: "  "}, wantErr: true},
		{name: "custom without headers", cfg: AuthConfig{Type: AuthCustom}, wantErr: true},
		{name: "custom bad name", cfg: AuthConfig{Type: AuthCustom, Headers: map[string]string{"bad header": "v"}}, wantErr: true},
		{name: "custom bad value", cfg: AuthConfig{Type: AuthCustom, Headers: map[string]string{"X-A": "v\r\nX-B: w"}}, wantErr: true},
		{name: "unknown", cfg: AuthConfig{Type: "oauth"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewAuthService(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, comfyerr.TypeInvalidAPIKey, comfyerr.TypeOf(comfyerr.Handle(err)))
				return
			}
			require.NoError(t, err)
			h := svc.Headers()
			assert.Len(t, h, len(tt.want))
			for k, v := range tt.want {
				assert.Equal(t, v, h.Get(k))
			}
		})
	}
}

func TestAuthHeadersAreCopies(t *testing.T) {
	svc, err := NewAuthService(AuthConfig{Type: AuthBearer, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, AuthBearer, svc.Type())

	h := svc.Headers()
	h.Set("Authorization", "tampered")
	assert.Equal(t, "Bearer k", svc.Headers().Get("Authorization"))
}
