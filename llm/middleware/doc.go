// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 middleware 提供请求改写器链机制，用于在请求发送到上游模型服务之前，
对 *llm.ChatRequest 进行参数清理与转换。

# 核心接口

  - RequestRewriter：请求改写器接口，包含 Rewrite 与 Name 方法。
  - RewriterChain：改写器链，按顺序执行多个 RequestRewriter。

# 主要能力

  - 请求改写：EmptyToolsCleaner 在 Tools 为空时清除 ToolChoice，避免上游
    因只有 tool_choice 而没有 tools 拒绝请求。

日志、超时、重试、速率限制、指标、追踪等横切关注点不在本包范围内，
分别由 *zap.Logger、context.WithTimeout、llm.RetryDispatcher/
llm.StreamMachine、cmd/agentflow 的 RateLimiter 中间件 + llm.CapacityGate、
internal/metrics、internal/telemetry 承担。
*/
package middleware
