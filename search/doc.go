/*
Package search 提供索引对账任务使用的搜索索引抽象与主存储查询契约。

Index 按 id 升序分页列出文档 id，PrimaryStore 批量判断这些 id 是否仍有
对应的主存储记录；没有记录的文档由对账任务从索引中删除。

实现：

  - MemoryIndex：进程内
  - RedisIndex：每个索引一个 score 全为 0 的有序集合，用 ZRANGEBYLEX 分页
*/
package search
