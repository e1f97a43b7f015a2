// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 api 定义 longtask HTTP API 的请求与响应类型。

  - TriggerTaskRequest / AbortTaskRequest：任务创建与中止请求体
  - TaskList / DefinitionInfo：任务与定义列表
  - ModelDeletion：模型删除进度

处理器实现位于 api/handlers。
*/
package api
