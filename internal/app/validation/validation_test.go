package validation

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/atproject/projectone/internal/errors"
)

type payload struct {
	Owner      string            `json:"owner" validate:"required,max=8"`
	Tags       []string          `json:"tags" validate:"max=2,dive,min=1,max=5,item_tag"`
	Attributes json.RawMessage   `json:"attributes" validate:"omitempty,json_object"`
	Metadata   map[string]string `json:"metadata,omitempty" validate:"max=2"`
}

func TestStructValid(t *testing.T) {
	err := Struct(payload{Owner: "alice", Tags: []string{"a", "b-c"}, Attributes: json.RawMessage(`{"x":1}`)})
	assert.NoError(t, err)
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(payload{
		Tags:       []string{"ok", "Bad!"},
		Attributes: json.RawMessage(`[1,2]`),
	})
	se := apperrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, apperrors.CodeValidation, se.Code)
	assert.Equal(t, http.StatusBadRequest, se.HTTPStatus)
	assert.Equal(t, "is required", se.Details["owner"])
	assert.Contains(t, se.Details, "tags[1]")
	assert.Equal(t, "must be a JSON object", se.Details["attributes"])
}

func TestStructLengthMessages(t *testing.T) {
	err := Struct(payload{Owner: "much-too-long", Tags: []string{"a", "b", "c"}})
	se := apperrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, "must have at most 8 characters", se.Details["owner"])
	assert.Equal(t, "must have at most 2 entries", se.Details["tags"])
}

func TestEmptyAttributesAllowed(t *testing.T) {
	assert.NoError(t, Struct(payload{Owner: "bob"}))
	assert.NoError(t, Struct(payload{Owner: "bob", Attributes: json.RawMessage(`{}`)}))
}

func TestNonStructIsInternal(t *testing.T) {
	se := apperrors.GetServiceError(Struct("not a struct"))
	require.NotNil(t, se)
	assert.Equal(t, apperrors.CodeInternal, se.Code)
}

func TestVarReportsField(t *testing.T) {
	assert.NoError(t, Var("tag", "blue", "item_tag"))

	err := Var("tag", "a,b", "max=64,item_tag")
	se := apperrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, apperrors.CodeValidation, se.Code)
	assert.Equal(t, http.StatusBadRequest, se.HTTPStatus)
	assert.Contains(t, se.Details["tag"], "lower-case letters")
}
