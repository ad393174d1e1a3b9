package providers

import "time"

// BaseProviderConfig 所有 Provider 共享的基础配置字段。
// 通过嵌入此结构体，各 Provider 的 Config 自动获得 APIKey、APIKeys、BaseURL、Model、Models、Timeout 六个字段，
// 避免重复定义。
type BaseProviderConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	APIKeys []string      `json:"api_keys,omitempty" yaml:"api_keys,omitempty"` // 多 API Key 支持，轮询使用
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Models  []string      `json:"models,omitempty" yaml:"models,omitempty"` // 可用模型白名单
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OpenAIConfig OpenAI Provider 配置
type OpenAIConfig struct {
	BaseProviderConfig `yaml:",inline"`
	Organization       string `json:"organization,omitempty" yaml:"organization,omitempty"`
	UseResponsesAPI    bool   `json:"use_responses_api,omitempty" yaml:"use_responses_api,omitempty"` // 启用新的 Responses API (2025)
}

// ClaudeConfig Claude Provider 配置
type ClaudeConfig struct {
	BaseProviderConfig `yaml:",inline"`
	AuthType           string `json:"auth_type,omitempty" yaml:"auth_type,omitempty"`                 // ClaudeProvider 不读取此字段，始终使用 x-api-key 头
	AnthropicVersion   string `json:"anthropic_version,omitempty" yaml:"anthropic_version,omitempty"` // 默认 "2023-06-01"
}

// GeminiConfig Gemini Provider 配置
type GeminiConfig struct {
	BaseProviderConfig `yaml:",inline"`
	ProjectID          string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	Region             string `json:"region,omitempty" yaml:"region,omitempty"`
	AuthType           string `json:"auth_type,omitempty" yaml:"auth_type,omitempty"` // "api_key"(默认) | "oauth"
}

// MistralConfig Mistral AI Provider 配置
type MistralConfig struct {
	BaseProviderConfig `yaml:",inline"`
}

// XAIConfig xAI Grok Provider 配置。xAI 的 chat/completions 端点拒绝
// presence_penalty/frequency_penalty 字段，适配器在发送前剥离它们。
type XAIConfig struct {
	BaseProviderConfig `yaml:",inline"`
}

// PerplexityConfig Perplexity (pplx-api) Provider 配置
type PerplexityConfig struct {
	BaseProviderConfig `yaml:",inline"`
}

// OpenRouterConfig OpenRouter Provider 配置。OpenRouter 按
// "<vendor>/<model>" 路由模型 id，适配器在请求前补上 vendor 前缀
// （若调用方尚未提供）。
type OpenRouterConfig struct {
	BaseProviderConfig `yaml:",inline"`
	DefaultVendor      string `json:"default_vendor,omitempty" yaml:"default_vendor,omitempty"` // 例如 "openai"、"anthropic"
	SiteURL            string `json:"site_url,omitempty" yaml:"site_url,omitempty"`              // HTTP-Referer，用于 OpenRouter 排行榜归属
	AppName            string `json:"app_name,omitempty" yaml:"app_name,omitempty"`              // X-Title
}

// BedrockConfig Amazon Bedrock Provider 配置。承载 Anthropic Claude 模型
// 的模型 id（如 "anthropic.claude-3-5-sonnet-20241022-v2:0"）经由
// Bedrock Runtime 的 InvokeModel/InvokeModelWithResponseStream 调用，
// 使用 AWS SigV4 签名而非普通的 Bearer/x-api-key 认证。
type BedrockConfig struct {
	BaseProviderConfig `yaml:",inline"`
	Region             string `json:"region" yaml:"region"`
	AccessKeyID        string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey    string `json:"secret_access_key" yaml:"secret_access_key"`
	SessionToken       string `json:"session_token,omitempty" yaml:"session_token,omitempty"`
}
