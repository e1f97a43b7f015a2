/*
Package syncindex 实现搜索索引与主存储之间的对账任务。

第一次调用列出所有以 IndexPrefix 开头的索引并排序写入游标；没有任何
符合条件的索引时以 NO_ELIGIBLE_INDICES 失败，因为这说明上游配置有误。
之后逐个索引按 id 分页，批量并行查询主存储（errgroup），把没有对应
记录的文档从索引中删除（带重试）。每页检查一次 Guard。
*/
package syncindex
