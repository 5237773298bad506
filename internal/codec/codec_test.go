package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    any
		wantErr bool
	}{
		{name: "array", in: `["Rick", 100]`, want: []any{"Rick", 100.0}},
		{name: "object", in: `{"name":"Rick"}`, want: map[string]any{"name": "Rick"}},
		{name: "string", in: `"hello"`, want: "hello"},
		{name: "whitespace", in: "  42 \n", want: 42.0},
		{name: "malformed", in: `{"name":`, wantErr: true},
		{name: "trailing", in: `1 2`, wantErr: true},
		{name: "empty", in: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JSON{}.Decode([]byte(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncode(t *testing.T) {
	b, err := JSON{}.Encode(map[string]int{"total": 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":3}`, string(b))

	b, err = JSON{}.Encode(errors.New("salary must be positive"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"salary must be positive"}`, string(b))

	_, err = JSON{}.Encode(func() {})
	assert.Error(t, err)

	assert.Equal(t, MimeJSON, JSON{}.MimeType())
}
