package shared

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type startRequest struct {
	TaskID   string `json:"task_id"   validate:"required,uuid"`
	TaskType string `json:"task_type" validate:"required"`
}

type selfValidating struct {
	Value int `json:"value"`
}

func (s selfValidating) Validate() error {
	if s.Value < 0 {
		return errors.New("value must not be negative")
	}
	return nil
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantErr error
		want    startRequest
	}{
		{
			name: "valid",
			body: `{"task_id":"3b241101-e2bb-4255-8caf-4136c566a962","task_type":"denoise","extra":1}`,
			want: startRequest{TaskID: "3b241101-e2bb-4255-8caf-4136c566a962", TaskType: "denoise"},
		},
		{name: "empty", body: "", wantErr: ErrEmptyBody},
		{name: "malformed", body: `{"task_id":`, wantErr: ErrMalformedBody},
		{name: "wrong type", body: `{"task_id":42}`, wantErr: ErrMalformedBody},
		{name: "trailing data", body: `{"task_type":"denoise"} {}`, wantErr: ErrMalformedBody},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var got startRequest
			err := DecodeJSON(req, &got)

			switch {
			case tc.wantErr != nil:
				assert.ErrorIs(t, err, tc.wantErr)
			case tc.want == (startRequest{}):
				assert.Error(t, err)
			default:
				require.NoError(t, err)
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateRequest(startRequest{
		TaskID:   "3b241101-e2bb-4255-8caf-4136c566a962",
		TaskType: "virtual",
	}))
	assert.Error(t, ValidateRequest(startRequest{TaskID: "nope", TaskType: "virtual"}))
	assert.Error(t, ValidateRequest(startRequest{}))

	assert.NoError(t, ValidateRequest(selfValidating{Value: 1}))
	assert.Error(t, ValidateRequest(selfValidating{Value: -1}))
}

func TestDecodeAndValidate(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"task_type":"denoise"}`))
	var got startRequest
	err := DecodeAndValidate(req, &got)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedBody)
	assert.Equal(t, "denoise", got.TaskType)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(
		`{"task_id":"3b241101-e2bb-4255-8caf-4136c566a962","task_type":"denoise"}`))
	assert.NoError(t, DecodeAndValidate(req, &startRequest{}))
}
