package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/o2c-lite/internal/classifier"
	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/storage/sqlite/sqlitetest"
)

func fakeServer(t *testing.T, status int, reply string, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		if got != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"overloaded"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_01",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": "end_turn",
			"content":     []map[string]any{{"type": "text", "text": reply}},
			"usage":       map[string]any{"input_tokens": 120, "output_tokens": 30},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newCapability(t *testing.T, srv *httptest.Server) *Capability {
	t.Helper()
	c, err := New(Config{
		APIKey:  "test-key",
		Options: []option.RequestOption{option.WithBaseURL(srv.URL), option.WithMaxRetries(0)},
	})
	require.NoError(t, err)
	return c
}

func TestClassify(t *testing.T) {
	var body map[string]any
	srv := fakeServer(t, http.StatusOK,
		`{"intent":"place_order","customer_id":"acme","items":[{"item_id":"CARDSTOCK","quantity":20}],"confidence":0.88}`, &body)
	c := newCapability(t, srv)

	ext, err := c.Classify(context.Background(), "send me 20 cardstock", classifier.ClassifyContext{Catalog: sqlitetest.Paper()})
	require.NoError(t, err)
	assert.Equal(t, "place_order", ext.Intent)
	assert.Equal(t, "acme", ext.CustomerID)
	assert.Equal(t, []classifier.ExtractedItem{{ItemID: "CARDSTOCK", Quantity: 20}}, ext.Items)

	assert.Equal(t, "claude-haiku-4-5-20251001", body["model"])
	system, ok := body["system"].([]any)
	require.True(t, ok)
	require.Len(t, system, 1)
	assert.Contains(t, system[0].(map[string]any)["text"], "A4-GLOSSY")
}

func TestClassifyServerError(t *testing.T) {
	srv := fakeServer(t, http.StatusInternalServerError, "", nil)
	_, err := newCapability(t, srv).Classify(context.Background(), "hi", classifier.ClassifyContext{})
	assert.Error(t, err)
}

func TestNewRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := New(Config{})
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")
}

func TestMessagesAlternate(t *testing.T) {
	history := []domain.Turn{
		{Role: domain.RoleAssistant, Text: "Welcome!"},
		{Role: domain.RoleCustomer, Text: "hi"},
		{Role: domain.RoleCustomer, Text: "anyone there?"},
		{Role: domain.RoleAssistant, Text: "Yes."},
	}
	msgs := Messages("order 5 cardstock", history)
	require.Len(t, msgs, 3)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[2].Role)
}

func TestBedrockModel(t *testing.T) {
	assert.Equal(t, sdk.Model("us.anthropic.claude-haiku-4-5-20251001-v1:0"), bedrockModel(sdk.ModelClaudeHaiku4_5_20251001))
	assert.Equal(t, sdk.Model("us.anthropic.x-v1:0"), bedrockModel("us.anthropic.x-v1:0"))
}
