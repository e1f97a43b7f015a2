/*
Package testutil 提供 longtask 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 时间辅助: FakeClock（可传给 task.WithClock）、WaitFor / AssertEventuallyTrue
  - 重试辅助: FastRetry 返回毫秒级退避的重试器
  - 结果断言: ContinueInput / DoneOutput 解出 runner 结果中的 JSON

# 子包

  - testutil/mocks: BudgetGuard（按轮询次数超时/中止）、
    FailingStore（检查点错误注入）、MetricsRecorder
  - testutil/fixtures: CounterDefinition / EchoDefinition、
    样例任务记录与 RunContext 构造
*/
package testutil
