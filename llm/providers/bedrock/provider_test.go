package bedrock

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/driftforge/llmgateway/llm"
	"github.com/driftforge/llmgateway/llm/providers"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestBedrockProvider_Name(t *testing.T) {
	p := NewBedrockProvider(providers.BedrockConfig{}, zap.NewNop())
	assert.Equal(t, "bedrock", p.Name())
}

func TestBedrockProvider_DefaultRegionAndBaseURL(t *testing.T) {
	p := NewBedrockProvider(providers.BedrockConfig{}, zap.NewNop())
	assert.Equal(t, "us-east-1", p.cfg.Region)
	assert.Equal(t, "https://bedrock-runtime.us-east-1.amazonaws.com", p.cfg.BaseURL)
}

func TestBedrockProvider_ModelIDFallsBackToDefault(t *testing.T) {
	p := NewBedrockProvider(providers.BedrockConfig{}, zap.NewNop())
	assert.Equal(t, "anthropic.claude-3-5-sonnet-20241022-v2:0", p.modelID(""))
	assert.Equal(t, "anthropic.claude-3-opus-20240229-v1:0", p.modelID("anthropic.claude-3-opus-20240229-v1:0"))
}

func TestSignRequest_SetsAuthorizationHeader(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "https://bedrock-runtime.us-east-1.amazonaws.com/model/foo/invoke", strings.NewReader(`{}`))
	assert.NoError(t, err)

	signRequest(req, []byte(`{}`), "us-east-1", "AKIDEXAMPLE", "secret", "", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	auth := req.Header.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20240101/us-east-1/bedrock/aws4_request"))
	assert.Contains(t, auth, "SignedHeaders=")
	assert.Contains(t, auth, "Signature=")
	assert.NotEmpty(t, req.Header.Get("X-Amz-Date"))
	assert.NotEmpty(t, req.Header.Get("X-Amz-Content-Sha256"))
}

func TestSignRequest_SetsSecurityTokenWhenSessionTokenPresent(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "https://bedrock-runtime.us-east-1.amazonaws.com/model/foo/invoke", strings.NewReader(`{}`))
	assert.NoError(t, err)

	signRequest(req, []byte(`{}`), "us-east-1", "AKID", "secret", "session-token", time.Now())

	assert.Equal(t, "session-token", req.Header.Get("X-Amz-Security-Token"))
}

func TestConvertToBedrockMessages_ExtractsSystemAndToolResult(t *testing.T) {
	system, msgs := convertToBedrockMessages([]llm.Message{
		{Role: llm.RoleSystem, Content: "be helpful"},
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleTool, Content: "42", ToolCallID: "call_1"},
	})
	assert.Equal(t, "be helpful", system)
	assert.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, "tool_result", msgs[1].Content[0].Type)
	assert.Equal(t, "call_1", msgs[1].Content[0].ToolUseID)
}

func TestBedrockInvokeURL_StreamingSuffix(t *testing.T) {
	p := NewBedrockProvider(providers.BedrockConfig{}, zap.NewNop())
	assert.Equal(t, p.cfg.BaseURL+"/model/my-model/invoke", p.invokeURL("my-model", false))
	assert.Equal(t, p.cfg.BaseURL+"/model/my-model/invoke-with-response-stream", p.invokeURL("my-model", true))
}
