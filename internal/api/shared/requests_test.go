package shared

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name" validate:"required"`
	Count int    `json:"count" validate:"gte=0"`
}

type selfValidating struct{ ok bool }

func (s selfValidating) Validate() error {
	if !s.ok {
		return assert.AnError
	}
	return nil
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantErr error
		fails   bool
	}{
		{name: "valid", body: `{"name":"a","count":2}`},
		{name: "empty", body: "", wantErr: ErrEmptyBody},
		{name: "malformed", body: `{"name":`, fails: true},
		{name: "unknown field", body: `{"name":"a","extra":1}`, fails: true},
		{name: "trailing value", body: `{"name":"a"}{"name":"b"}`, fails: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var v sample
			err := DecodeJSON(httptest.NewRecorder(), req, &v)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.fails:
				assert.Error(t, err)
			default:
				require.NoError(t, err)
				assert.Equal(t, sample{Name: "a", Count: 2}, v)
			}
		})
	}
}

func TestDecodeOptionalJSON(t *testing.T) {
	t.Parallel()
	var v sample
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.NoError(t, DecodeOptionalJSON(httptest.NewRecorder(), req, &v))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("nope"))
	assert.Error(t, DecodeOptionalJSON(httptest.NewRecorder(), req, &v))
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateRequest(&sample{Name: "a"}))
	assert.Error(t, ValidateRequest(&sample{}))
	assert.Error(t, ValidateRequest(&sample{Name: "a", Count: -1}))
	assert.NoError(t, ValidateRequest(selfValidating{ok: true}))
	assert.ErrorIs(t, ValidateRequest(selfValidating{}), assert.AnError)
}
